// Package memorydevice is a deterministic, dependency-free audio.Device
// double: Capture replays frames fed to it with Feed, Play appends to an
// in-memory buffer inspectable with Played. Used in tests and anywhere no
// real capture/playback hardware is available.
package memorydevice

import (
	"errors"
	"sync"

	"github.com/wiresong/voxhub/audio"
)

// ErrClosed is returned by Capture/Play after Close.
var ErrClosed = errors.New("memorydevice: closed")

// Device is the in-memory audio.Device double.
type Device struct {
	mu     sync.Mutex
	queue  [][]int16
	played [][]int16
	closed bool
}

// New builds an empty device.
func New() *Device { return &Device{} }

// Feed enqueues a frame for a future Capture call to return.
func (d *Device) Feed(frame []int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, frame)
}

// Capture pops the next fed frame, or a silent frame if none is queued.
func (d *Device) Capture() ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if len(d.queue) == 0 {
		return make([]int16, 256), nil
	}
	frame := d.queue[0]
	d.queue = d.queue[1:]
	return frame, nil
}

// Play records samples for later inspection via Played.
func (d *Device) Play(samples []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.played = append(d.played, append([]int16(nil), samples...))
	return nil
}

// Played returns every frame given to Play, in order.
func (d *Device) Played() [][]int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]int16(nil), d.played...)
}

// Close marks the device closed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var _ audio.Device = (*Device)(nil)

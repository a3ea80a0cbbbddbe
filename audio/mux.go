package audio

import (
	"log/slog"
	"sync"

	"github.com/wiresong/voxhub/wire"
)

// Muxer holds one decoded PCM frame per remote client and sums them into a
// single playback frame. Write replaces any queued frame for a client;
// Read blocks until at least one client has a pending frame, then sums,
// clamps, and emits 16-bit LE PCM.
type Muxer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames map[wire.ClientID][]int16
	log    *slog.Logger
	closed bool
}

// NewMuxer builds an empty muxer.
func NewMuxer(log *slog.Logger) *Muxer {
	m := &Muxer{frames: make(map[wire.ClientID][]int16), log: log}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Write queues frame (decoded PCM, FrameSamples samples) for client,
// replacing anything already queued for it. A frame of the wrong shape is
// skipped and logged rather than queued.
func (m *Muxer) Write(clientID wire.ClientID, frame []int16) {
	if len(frame) != FrameSamples {
		if m.log != nil {
			m.log.Warn("muxer: dropping mis-shapen frame", "client_id", clientID, "samples", len(frame))
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[clientID] = frame
	m.cond.Signal()
}

// Read blocks until at least one client has a queued frame, then sums every
// queued frame into one clamped PCM output and clears the queue.
func (m *Muxer) Read() []byte {
	m.mu.Lock()
	for len(m.frames) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed && len(m.frames) == 0 {
		m.mu.Unlock()
		return nil
	}

	acc := make([]int32, FrameSamples)
	for _, frame := range m.frames {
		for i, s := range frame {
			acc[i] += int32(s)
		}
	}
	m.frames = make(map[wire.ClientID][]int16)
	m.mu.Unlock()

	out := make([]int16, FrameSamples)
	for i, v := range acc {
		out[i] = clampInt32ToInt16(v)
	}
	return encodePCM16LE(out)
}

// Close wakes any blocked Read with a final nil result.
func (m *Muxer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}

// Package wavwriter adapts github.com/go-audio/wav to the recorder.Writer
// interface, grounded on the go-audio/wav dependency retrieved alongside
// this pack's CS2VoiceData and ausocean-av examples (both record decoded
// voice PCM to disk the same way).
package wavwriter

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/wiresong/voxhub/recorder"
)

const (
	sampleRate = 48000
	bitDepth   = 16
	numChans   = 1
)

// Writer records decoded session audio to a 16-bit mono 48kHz WAV file.
type Writer struct {
	file *os.File
	enc  *wav.Encoder
}

// Create opens path and begins a new WAV recording.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "wavwriter: create file")
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, numChans, 1)
	return &Writer{file: f, enc: enc}, nil
}

// WriteFrame appends one PCM frame.
func (w *Writer) WriteFrame(samples []int16) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: numChans, SampleRate: sampleRate},
		Data:   data,
	}
	if err := w.enc.Write(buf); err != nil {
		return errors.Wrap(err, "wavwriter: write frame")
	}
	return nil
}

// Close finalizes the WAV header and closes the file.
func (w *Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		return errors.Wrap(err, "wavwriter: close encoder")
	}
	return w.file.Close()
}

var _ recorder.Writer = (*Writer)(nil)

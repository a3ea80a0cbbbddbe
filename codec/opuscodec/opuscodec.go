// Package opuscodec adapts github.com/hraban/opus (a cgo binding over
// libopus) to the codec.Encoder/Decoder interfaces. Grounded on the Opus
// usage pattern in the retrieved pack's audio-orchestrator and resonate-go
// examples: opus.NewEncoder/NewDecoder bound to a fixed sample rate and
// channel count, called once per frame.
package opuscodec

import (
	"github.com/hraban/opus"
	"github.com/pkg/errors"

	"github.com/wiresong/voxhub/codec"
)

const (
	sampleRate = 48000
	channels   = 1
)

// Encoder wraps one opus.Encoder. Not safe for concurrent use; callers hold
// one per pipeline.
type Encoder struct {
	enc *opus.Encoder
}

// NewEncoder builds an encoder in VoIP mode, the application profile the
// hraban/opus examples in the pack use for live speech.
func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: new encoder")
	}
	return &Encoder{enc: enc}, nil
}

// Encode compresses one codec.FrameSamples-sample PCM frame.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != codec.FrameSamples {
		return nil, errors.Errorf("opuscodec: expected %d samples, got %d", codec.FrameSamples, len(pcm))
	}
	out := make([]byte, 4000)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: encode")
	}
	return out[:n], nil
}

// Decoder wraps one opus.Decoder.
type Decoder struct {
	dec *opus.Decoder
}

// NewDecoder builds a decoder for the fixed sample rate/channel pair every
// peer uses.
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: new decoder")
	}
	return &Decoder{dec: dec}, nil
}

// Decode expands packet to one codec.FrameSamples-sample PCM frame.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm := make([]int16, codec.FrameSamples)
	n, err := d.dec.Decode(packet, pcm)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: decode")
	}
	return pcm[:n], nil
}

var (
	_ codec.Encoder = (*Encoder)(nil)
	_ codec.Decoder = (*Decoder)(nil)
)

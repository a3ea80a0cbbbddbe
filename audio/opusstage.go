package audio

import (
	"log/slog"

	"github.com/wiresong/voxhub/codec"
)

// OpusEncodeStage accumulates inbound PCM bytes until one Opus frame
// (FrameBytes) is available, then emits exactly one encoded Opus packet.
// Feeds smaller than a frame buffer and drop; a feed that leaves the buffer
// holding more than one frame indicates an underrun upstream, and the
// buffer is truncated to exactly one frame (the excess is logged and
// discarded).
type OpusEncodeStage struct {
	newEncoder func() (codec.Encoder, error)
	enc        codec.Encoder
	buf        []byte
	log        *slog.Logger
}

// NewOpusEncodeStage builds a stage that lazily constructs its encoder via
// newEncoder (deferred so Clone doesn't need to share one cgo encoder
// across peers).
func NewOpusEncodeStage(newEncoder func() (codec.Encoder, error), log *slog.Logger) *OpusEncodeStage {
	return &OpusEncodeStage{newEncoder: newEncoder, log: log}
}

func (s *OpusEncodeStage) ensureEncoder() error {
	if s.enc != nil {
		return nil
	}
	enc, err := s.newEncoder()
	if err != nil {
		return err
	}
	s.enc = enc
	return nil
}

func (s *OpusEncodeStage) Process(data []byte, ctx *Context) ([]byte, bool) {
	if err := s.ensureEncoder(); err != nil {
		if s.log != nil {
			s.log.Error("opus encoder unavailable", "error", err)
		}
		return nil, true
	}

	s.buf = append(s.buf, data...)
	if len(s.buf) < FrameBytes {
		return nil, true
	}

	frame := s.buf[:FrameBytes]
	if len(s.buf) > FrameBytes {
		if s.log != nil {
			s.log.Warn("opus encode stage: feed overflowed one frame, truncating", "overflow", len(s.buf)-FrameBytes)
		}
	}
	s.buf = nil

	pcm := decodePCM16LE(frame)
	packet, err := s.enc.Encode(pcm)
	if err != nil {
		if s.log != nil {
			s.log.Error("opus encode failed", "error", err)
		}
		return nil, true
	}

	return packet, false
}

func (s *OpusEncodeStage) Clone() Processor {
	return NewOpusEncodeStage(s.newEncoder, s.log)
}

var _ Processor = (*OpusEncodeStage)(nil)

// OpusDecodeStage decodes one Opus packet per feed into one PCM frame.
type OpusDecodeStage struct {
	newDecoder func() (codec.Decoder, error)
	dec        codec.Decoder
	log        *slog.Logger
}

// NewOpusDecodeStage builds a stage that lazily constructs its decoder.
func NewOpusDecodeStage(newDecoder func() (codec.Decoder, error), log *slog.Logger) *OpusDecodeStage {
	return &OpusDecodeStage{newDecoder: newDecoder, log: log}
}

func (s *OpusDecodeStage) Process(data []byte, ctx *Context) ([]byte, bool) {
	if s.dec == nil {
		dec, err := s.newDecoder()
		if err != nil {
			if s.log != nil {
				s.log.Error("opus decoder unavailable", "error", err)
			}
			return nil, true
		}
		s.dec = dec
	}

	pcm, err := s.dec.Decode(data)
	if err != nil {
		if s.log != nil {
			s.log.Error("opus decode failed", "error", err)
		}
		return nil, true
	}

	return encodePCM16LE(pcm), false
}

func (s *OpusDecodeStage) Clone() Processor {
	return NewOpusDecodeStage(s.newDecoder, s.log)
}

var _ Processor = (*OpusDecodeStage)(nil)

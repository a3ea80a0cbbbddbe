package audio

import (
	"encoding/binary"

	"github.com/wiresong/voxhub/transport"
	"github.com/wiresong/voxhub/wire"
)

// TransmitStage is the terminal outbound stage: it prepends a 2-byte
// big-endian RMS amplitude to the frame and sends it as an AUDIO packet on
// the bound controller, stamped with the frame's sequence number.
type TransmitStage struct {
	ctl *transport.Controller
	to  transport.SendOptions
}

// NewTransmitStage binds a stage to ctl, sending with the given options
// (e.g. a fixed UDP destination address).
func NewTransmitStage(ctl *transport.Controller, to transport.SendOptions) *TransmitStage {
	return &TransmitStage{ctl: ctl, to: to}
}

func (s *TransmitStage) Process(data []byte, ctx *Context) ([]byte, bool) {
	payload := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(payload[:2], ctx.Amplitude)
	copy(payload[2:], data)

	opts := s.to
	seq := ctx.Sequence
	opts.Sequence = &seq

	if err := s.ctl.SendPacket(wire.OpAudio, payload, opts); err != nil {
		return nil, true
	}
	return data, false
}

func (s *TransmitStage) Clone() Processor {
	return &TransmitStage{ctl: s.ctl, to: s.to}
}

var _ Processor = (*TransmitStage)(nil)

// NullSink always drops, terminating a chain with no further effect (e.g. a
// muted peer's inbound chain).
type NullSink struct{}

func (NullSink) Process(data []byte, ctx *Context) ([]byte, bool) { return nil, true }
func (NullSink) Clone() Processor                                 { return NullSink{} }

var _ Processor = NullSink{}

// Package audio implements the client-side audio processor chain: an
// ordered list of Processors threaded over each outbound or inbound frame.
// Grounded on the teacher's voice/udp packet-transform style (parse, then
// mutate in place before re-framing) generalized into a pluggable chain,
// since the teacher has no equivalent multi-stage DSP pipeline of its own.
package audio

// Drop is the nil data a Processor returns alongside drop=true. The drop
// flag, not this value, is what short-circuits a frame: no later processor
// in the chain runs, and nothing is emitted.
var Drop = []byte(nil)

// Context is passed to a Processor alongside the frame. Sequence is the
// outbound frame's sequence number or, on an inbound chain, the received
// packet's sequence; Amplitude is the outbound PCM frame's RMS amplitude
// and stays zero on inbound chains.
type Context struct {
	Sequence uint16
	Amplitude uint16
}

// Processor is one stage of an audio pipeline. Process returns the
// transformed data and drop, which is true when the frame should stop here
// instead of continuing through the rest of the chain. Clone returns an independent copy carrying its own mutable
// state (envelope followers, jitter heaps, etc.), used to build one inbound
// chain per remote peer.
type Processor interface {
	Process(data []byte, ctx *Context) (out []byte, drop bool)
	Clone() Processor
}

// Pipeline runs an ordered list of Processors over one frame at a time.
type Pipeline struct {
	Stages []Processor
}

// NewPipeline builds a pipeline from stages, in order.
func NewPipeline(stages ...Processor) *Pipeline {
	return &Pipeline{Stages: append([]Processor(nil), stages...)}
}

// Run threads data through every stage until one drops it or all have run.
// It returns the final data and whether the frame survived.
func (p *Pipeline) Run(data []byte, ctx *Context) ([]byte, bool) {
	for _, stage := range p.Stages {
		out, drop := stage.Process(data, ctx)
		if drop {
			return nil, false
		}
		data = out
	}
	return data, true
}

// Clone returns a pipeline with an independently-cloned copy of every
// stage, for instantiating one inbound chain per remote client id.
func (p *Pipeline) Clone() *Pipeline {
	clones := make([]Processor, len(p.Stages))
	for i, s := range p.Stages {
		clones[i] = s.Clone()
	}
	return &Pipeline{Stages: clones}
}

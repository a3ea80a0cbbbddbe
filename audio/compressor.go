package audio

import "math"

// DefaultCompressorExponent is the envelope-follower weighting spec.md §4.4
// names as the default.
const DefaultCompressorExponent = 0.9

// CompressorParams configures a Compressor. Attack and Release are sample
// counts; Threshold is an absolute 16-bit sample magnitude above which
// gain reduction applies.
type CompressorParams struct {
	Attack    uint16
	Release   uint16
	Threshold uint16
}

// Compressor applies an exp-weighted envelope follower and reduces gain for
// samples whose envelope exceeds Threshold, pulling them back toward it.
type Compressor struct {
	Params   CompressorParams
	Exponent float64

	envelope float64
}

// NewCompressor builds a compressor with the default 0.9 exponent.
func NewCompressor(p CompressorParams) *Compressor {
	return &Compressor{Params: p, Exponent: DefaultCompressorExponent}
}

func (c *Compressor) Process(data []byte, ctx *Context) ([]byte, bool) {
	samples := decodePCM16LE(data)
	out := make([]int16, len(samples))

	threshold := float64(c.Params.Threshold)

	for i, s := range samples {
		mag := math.Abs(float64(s))
		c.envelope = c.Exponent*c.envelope + (1-c.Exponent)*mag

		gain := 1.0
		if c.envelope > threshold && c.envelope > 0 {
			gain = threshold / c.envelope
		}

		out[i] = clampInt32ToInt16(int32(float64(s) * gain))
	}

	return encodePCM16LE(out), false
}

func (c *Compressor) Clone() Processor {
	clone := *c
	clone.envelope = 0
	return &clone
}

var _ Processor = (*Compressor)(nil)

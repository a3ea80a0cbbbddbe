package audio

// GateParams configures a NoiseGate. Attack, Hold, and Release are sample
// counts; Threshold is an absolute 16-bit sample magnitude.
type GateParams struct {
	Attack    uint16
	Hold      uint16
	Release   uint16
	Threshold uint16
}

// NoiseGate tracks an instantaneous envelope and multiplies quiet stretches
// toward silence: gain ramps to unity over Attack samples once the
// envelope crosses Threshold and, once the envelope has stayed below
// Threshold for Hold samples, decays exponentially, falling to about 1/e
// every Release samples.
type NoiseGate struct {
	Params GateParams

	gain          float64 // current multiplier, [0, 1]
	belowFor      uint32  // samples spent below threshold since last above
	sinceReleased uint32  // samples into the release decay
}

// NewNoiseGate builds a gate with the given parameters, open (unity gain).
func NewNoiseGate(p GateParams) *NoiseGate {
	return &NoiseGate{Params: p, gain: 1}
}

func (g *NoiseGate) Process(data []byte, ctx *Context) ([]byte, bool) {
	samples := decodePCM16LE(data)
	out := make([]int16, len(samples))

	for i, s := range samples {
		envelope := uint16(abs16(s))

		if envelope >= g.Params.Threshold {
			g.belowFor = 0
			g.sinceReleased = 0
			if g.Params.Attack > 0 {
				g.gain += 1.0 / float64(g.Params.Attack)
			} else {
				g.gain = 1
			}
		} else {
			g.belowFor++
			if uint32(g.Params.Hold) <= g.belowFor {
				g.sinceReleased++
				if g.Params.Release > 0 {
					// Exponential decay reaching ~37% (1/e) after
					// Release samples.
					decay := 1.0 - 1.0/float64(g.Params.Release)
					g.gain *= decay
				} else {
					g.gain = 0
				}
			}
		}

		if g.gain > 1 {
			g.gain = 1
		}
		if g.gain < 0 {
			g.gain = 0
		}

		out[i] = clampInt32ToInt16(int32(float64(s) * g.gain))
	}

	return encodePCM16LE(out), false
}

func (g *NoiseGate) Clone() Processor {
	clone := *g
	clone.gain = 1
	clone.belowFor = 0
	clone.sinceReleased = 0
	return &clone
}

var _ Processor = (*NoiseGate)(nil)

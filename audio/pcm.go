package audio

import "encoding/binary"

// FrameSamples mirrors codec.FrameSamples: one 20ms frame at 48kHz mono,
// 960 16-bit samples (1920 bytes).
const FrameSamples = 960

// FrameBytes is one full PCM frame's size in bytes.
const FrameBytes = FrameSamples * 2

// decodePCM16LE reads little-endian 16-bit samples from b.
func decodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// encodePCM16LE writes samples as little-endian 16-bit PCM bytes.
func encodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ComputeRMS computes the root-mean-square amplitude of a PCM frame,
// clamped to fit the 16-bit field TransmitStage prepends to outbound
// audio. Callers compute this from the pre-Opus PCM frame and carry it
// through Context.Amplitude, since by the time a frame reaches
// TransmitStage it has already been Opus-encoded.
func ComputeRMS(samples []int16) uint16 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq int64
	for _, s := range samples {
		sumSq += int64(s) * int64(s)
	}
	mean := sumSq / int64(len(samples))
	return uint16(isqrt(mean))
}

func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt32ToInt16(v int32) int16 {
	const (
		maxI16 = 1<<15 - 1
		minI16 = -(1 << 15)
	)
	if v > maxI16 {
		return maxI16
	}
	if v < minI16 {
		return minI16
	}
	return int16(v)
}

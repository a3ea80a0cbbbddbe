// Package codec defines the audio codec boundary spec.md §1 names as a
// collaborator interface the core must only call through, never implement
// directly: the Opus codec wrapper. The concrete adapter lives in
// codec/opuscodec.
package codec

// FrameSamples is one 20ms frame at 48kHz mono: 960 samples.
const FrameSamples = 960

// Encoder turns one PCM frame (FrameSamples int16 samples) into an encoded
// packet.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder turns one encoded packet back into a PCM frame.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
}

package audio

import "encoding/binary"

// DecodeGateParams parses the big-endian 4×uint16 SET_GATE payload the
// session manager sends (Attack, Hold, Release, Threshold).
func DecodeGateParams(b []byte) (GateParams, bool) {
	if len(b) < 8 {
		return GateParams{}, false
	}
	return GateParams{
		Attack:    binary.BigEndian.Uint16(b[0:2]),
		Hold:      binary.BigEndian.Uint16(b[2:4]),
		Release:   binary.BigEndian.Uint16(b[4:6]),
		Threshold: binary.BigEndian.Uint16(b[6:8]),
	}, true
}

// DecodeCompressorParams parses the big-endian 3×uint16 SET_COMP payload
// (Attack, Release, Threshold).
func DecodeCompressorParams(b []byte) (CompressorParams, bool) {
	if len(b) < 6 {
		return CompressorParams{}, false
	}
	return CompressorParams{
		Attack:    binary.BigEndian.Uint16(b[0:2]),
		Release:   binary.BigEndian.Uint16(b[2:4]),
		Threshold: binary.BigEndian.Uint16(b[4:6]),
	}, true
}

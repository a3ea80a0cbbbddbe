// Package wire implements the framed packet format shared by every voxhub
// transport: a CRC-protected, opcode-keyed frame carrying an origin client
// identifier and a rolling sequence number. See the HeaderSize/ClientIDSize
// layout below — it is wire-visible and must not change independently on
// the two ends of a connection.
package wire

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Epoch is the protocol epoch, in Unix seconds. Every packet's on-wire
// timestamp is encoded as the number of seconds since this instant.
const Epoch int64 = 1563520000

// HeaderSize is the fixed size, in bytes, of the header preceding the origin
// identifier: opcode(1) + timestamp(4) + payload length(2) + sequence(2).
const HeaderSize = 9

// CRCSize is the size, in bytes, of the trailing CRC-16.
const CRCSize = 2

// MaxPayloadSize is the largest payload length the 16-bit length field can
// express.
const MaxPayloadSize = 0xFFFF

// Sentinel errors for the codec. Callers distinguish framing problems
// (malformed or short input) from an integrity failure (bad CRC).
var (
	ErrPayloadTooLarge  = errors.New("wire: payload exceeds 65535 bytes")
	ErrTimestampOutOfRange = errors.New("wire: timestamp is outside the 32-bit epoch-relative range")
	ErrShortFrame       = errors.New("wire: frame shorter than the minimum header+id+crc size")
	ErrPayloadLengthMismatch = errors.New("wire: declared payload length does not match frame size")
	ErrInvalidCRC       = errors.New("wire: CRC mismatch")
)

// minFrameSize is HeaderSize + ClientIDSize + CRCSize, i.e. a frame carrying
// a zero-length payload.
const minFrameSize = HeaderSize + ClientIDSize + CRCSize

// Packet is one parsed frame.
type Packet struct {
	Opcode    Opcode
	Timestamp time.Time
	Sequence  uint16
	Origin    ClientID
	Payload   []byte
}

// Encode serializes a packet to its wire representation. It fails if payload
// exceeds MaxPayloadSize or if timestamp falls outside the epoch-relative
// 32-bit window the wire format can express.
func Encode(opcode Opcode, payload []byte, timestamp time.Time, sequence uint16, origin ClientID) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	relative := timestamp.Unix() - Epoch
	if relative < 0 || relative > 0xFFFFFFFF {
		return nil, ErrTimestampOutOfRange
	}

	buf := make([]byte, minFrameSize+len(payload))

	buf[0] = byte(opcode)
	binary.BigEndian.PutUint32(buf[1:5], uint32(relative))
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(payload)))
	binary.BigEndian.PutUint16(buf[7:9], sequence)
	copy(buf[HeaderSize:HeaderSize+ClientIDSize], origin[:])
	copy(buf[HeaderSize+ClientIDSize:], payload)

	crc := crc16(buf[:len(buf)-CRCSize])
	binary.BigEndian.PutUint16(buf[len(buf)-CRCSize:], crc)

	return buf, nil
}

// DecodeBytes parses a complete frame already in memory, verifying its CRC.
func DecodeBytes(buf []byte) (*Packet, error) {
	if len(buf) < minFrameSize {
		return nil, ErrShortFrame
	}

	gotCRC := binary.BigEndian.Uint16(buf[len(buf)-CRCSize:])
	wantCRC := crc16(buf[:len(buf)-CRCSize])
	if gotCRC != wantCRC {
		return nil, ErrInvalidCRC
	}

	payloadLen := int(binary.BigEndian.Uint16(buf[5:7]))
	wantLen := minFrameSize + payloadLen
	if len(buf) != wantLen {
		return nil, ErrPayloadLengthMismatch
	}

	p := &Packet{
		Opcode:    Opcode(buf[0]),
		Timestamp: time.Unix(Epoch+int64(binary.BigEndian.Uint32(buf[1:5])), 0),
		Sequence:  binary.BigEndian.Uint16(buf[7:9]),
	}
	copy(p.Origin[:], buf[HeaderSize:HeaderSize+ClientIDSize])

	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, buf[HeaderSize+ClientIDSize:HeaderSize+ClientIDSize+payloadLen])
	}

	return p, nil
}

// DecodeStream reads exactly one frame from r: the fixed header, the origin
// identifier, the declared-length payload, then the CRC trailer, each read
// to completion before the next is attempted. A short read anywhere
// (including zero bytes, i.e. a clean connection close) surfaces as the
// underlying io error so callers can distinguish transport loss from framing
// corruption.
func DecodeStream(r io.Reader) (*Packet, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	payloadLen := int(binary.BigEndian.Uint16(header[5:7]))

	rest := make([]byte, ClientIDSize+payloadLen+CRCSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	frame := make([]byte, 0, HeaderSize+len(rest))
	frame = append(frame, header...)
	frame = append(frame, rest...)

	return DecodeBytes(frame)
}

package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Unix(Epoch+8913, 0)
	origin := ClientID{}

	buf, err := Encode(OpACK, []byte("test data"), ts, 1234, origin)
	require.NoError(t, err)

	p, err := DecodeBytes(buf)
	require.NoError(t, err)
	require.Equal(t, OpACK, p.Opcode)
	require.Equal(t, ts.Unix(), p.Timestamp.Unix())
	require.Equal(t, uint16(1234), p.Sequence)
	require.Equal(t, origin, p.Origin)
	require.Equal(t, []byte("test data"), p.Payload)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, 0x00FFFFFF)
	_, err := Encode(OpAudio, payload, time.Unix(Epoch, 0), 0, ClientID{})
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncodeRejectsOutOfRangeTimestamp(t *testing.T) {
	farFuture := time.Unix(Epoch+(1<<32), 0)
	_, err := Encode(OpAudio, nil, farFuture, 0, ClientID{})
	require.ErrorIs(t, err, ErrTimestampOutOfRange)
}

func TestDecodeRejectsCorruptCRC(t *testing.T) {
	buf, err := Encode(OpAudio, []byte{1, 2, 3}, time.Unix(Epoch+1, 0), 7, ClientID{})
	require.NoError(t, err)

	corrupt := append([]byte(nil), buf...)
	corrupt[len(corrupt)-1] = 0
	corrupt[len(corrupt)-2] = 0
	if corrupt[len(corrupt)-1] == buf[len(buf)-1] && corrupt[len(corrupt)-2] == buf[len(buf)-2] {
		t.Fatal("test setup failed to corrupt CRC bytes")
	}

	_, err = DecodeBytes(corrupt)
	require.ErrorIs(t, err, ErrInvalidCRC)
}

func TestSingleBitFlipBreaksCRC(t *testing.T) {
	buf, err := Encode(OpSetRooms, []byte{9, 9, 9, 9}, time.Unix(Epoch+42, 0), 5, ClientID{1, 2, 3})
	require.NoError(t, err)

	for byteIdx := 0; byteIdx < len(buf)-CRCSize; byteIdx++ {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), buf...)
			flipped[byteIdx] ^= 1 << bit

			_, err := DecodeBytes(flipped)
			require.ErrorIsf(t, err, ErrInvalidCRC, "byte %d bit %d did not trip the CRC", byteIdx, bit)
		}
	}
}

func TestDecodeStreamMatchesDecodeBytes(t *testing.T) {
	buf, err := Encode(OpAudio, []byte{1, 2, 3, 4, 5}, time.Unix(Epoch+100, 0), 42, ClientID{9})
	require.NoError(t, err)

	p, err := DecodeStream(bytes.NewReader(buf))
	require.NoError(t, err)

	want, err := DecodeBytes(buf)
	require.NoError(t, err)
	require.Equal(t, want, p)
}

func TestDecodeStreamSurfacesShortRead(t *testing.T) {
	buf, err := Encode(OpAudio, []byte{1, 2, 3}, time.Unix(Epoch, 0), 0, ClientID{})
	require.NoError(t, err)

	_, err = DecodeStream(bytes.NewReader(buf[:len(buf)-5]))
	require.Error(t, err)
}

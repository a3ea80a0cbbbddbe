package seccrypto

import "github.com/pkg/errors"

// ErrInvalidPadding is returned by UnpadPKCS7 when the trailing padding
// bytes are not a well-formed PKCS#7 block.
var ErrInvalidPadding = errors.New("seccrypto: invalid PKCS#7 padding")

// PadPKCS7 pads b to a multiple of blockSize using PKCS#7.
func PadPKCS7(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+padLen)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// UnpadPKCS7 strips and validates PKCS#7 padding.
func UnpadPKCS7(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(b) {
		return nil, ErrInvalidPadding
	}

	for _, by := range b[len(b)-padLen:] {
		if int(by) != padLen {
			return nil, ErrInvalidPadding
		}
	}

	return b[:len(b)-padLen], nil
}

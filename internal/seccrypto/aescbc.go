// Package seccrypto wraps the standard library's RSA/AES primitives behind
// the small surface the transport handshake needs. spec.md §1 names "the
// RSA/AES primitives" as an external collaborator the core only calls
// through an interface; crypto/aes, crypto/cipher, and crypto/rsa are that
// collaborator's concrete implementation. There is no ecosystem replacement
// for these in the retrieved examples (none of the pack repos roll their
// own block cipher or RSA), so the standard library is the idiomatic
// choice here.
package seccrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/pkg/errors"
)

const blockSize = aes.BlockSize // 16

// ErrShortCiphertext is returned when a ciphertext isn't a whole number of
// blocks, or is empty.
var ErrShortCiphertext = errors.New("seccrypto: ciphertext is not a whole number of blocks")

// AESCBCCipher implements AES-128-CBC with PKCS#7 padding over a fixed
// key/IV pair, the bulk cipher spec.md §6 mandates for payload bytes (the
// header and CRC stay cleartext).
type AESCBCCipher struct {
	key, iv []byte
}

// NewAESCBC builds a cipher bound to one 16-byte key and 16-byte IV.
func NewAESCBC(key, iv []byte) (*AESCBCCipher, error) {
	if len(key) != blockSize || len(iv) != blockSize {
		return nil, errors.New("seccrypto: AES-128 key and IV must both be 16 bytes")
	}
	// Validate the key is usable up front so callers get an early error
	// instead of one buried in the first Encrypt/Decrypt call.
	if _, err := aes.NewCipher(key); err != nil {
		return nil, errors.Wrap(err, "seccrypto: invalid AES key")
	}
	return &AESCBCCipher{key: append([]byte(nil), key...), iv: append([]byte(nil), iv...)}, nil
}

// Encrypt PKCS#7-pads plaintext to the block size, then CBC-encrypts it.
func (c *AESCBCCipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: new AES cipher")
	}

	padded := PadPKCS7(plaintext, blockSize)
	out := make([]byte, len(padded))

	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt CBC-decrypts ciphertext and strips PKCS#7 padding. Returns
// ErrInvalidPadding itself (not wrapped) if the padding is malformed, distinguishing a
// corrupted/forged payload from one that merely failed to parse.
func (c *AESCBCCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, ErrShortCiphertext
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: new AES cipher")
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, ciphertext)

	return UnpadPKCS7(out, blockSize)
}

// EncryptNoPad CBC-encrypts exactly one block with no padding, used for the
// AES_CHECK step where the plaintext (the client id) is already exactly one
// block.
func (c *AESCBCCipher) EncryptNoPad(plaintext []byte) ([]byte, error) {
	if len(plaintext) != blockSize {
		return nil, errors.New("seccrypto: EncryptNoPad requires exactly one block")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: new AES cipher")
	}
	out := make([]byte, blockSize)
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptNoPad CBC-decrypts exactly one block with no padding removal.
func (c *AESCBCCipher) DecryptNoPad(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != blockSize {
		return nil, errors.New("seccrypto: DecryptNoPad requires exactly one block")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: new AES cipher")
	}
	out := make([]byte, blockSize)
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "seccrypto: read random bytes")
	}
	return b, nil
}

package seccrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"github.com/pkg/errors"
)

// RSAKeyBits is the ephemeral per-session RSA key size the handshake uses.
const RSAKeyBits = 1024

// GenerateRSAKeyPair generates a fresh ephemeral RSA key pair for one
// handshake. The key is discarded once the session key is established.
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: generate RSA key")
	}
	return key, nil
}

// MarshalPublicKeyDER DER-encodes an RSA public key (PKCS#1), the format
// RSA_KEY carries on the wire.
func MarshalPublicKeyDER(pub *rsa.PublicKey) []byte {
	return x509.MarshalPKCS1PublicKey(pub)
}

// ParsePublicKeyDER parses a DER-encoded PKCS#1 RSA public key.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: parse RSA public key")
	}
	return pub, nil
}

// EncryptPKCS1v15 RSA-encrypts plaintext under pub using PKCS#1 v1.5
// padding, the scheme the AES_KEY message uses to transport the session
// key material.
func EncryptPKCS1v15(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: RSA encrypt")
	}
	return out, nil
}

// DecryptPKCS1v15 RSA-decrypts ciphertext with priv using the standard
// library's rsa.DecryptPKCS1v15. Malformed padding is reported as an
// error; no random sentinel value is substituted for the plaintext.
func DecryptPKCS1v15(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	out, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "seccrypto: RSA decrypt")
	}
	return out, nil
}

package seccrypto

import (
	"bytes"
	"testing"
)

func newTestCipher(t *testing.T) *AESCBCCipher {
	t.Helper()
	key, err := RandomBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	iv, err := RandomBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewAESCBC(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestAESCBCRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for _, n := range []int{0, 1, 15, 16, 100, 1920} {
		plaintext := bytes.Repeat([]byte{0x5A}, n)
		ct, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatal(err)
		}
		pt, err := c.Decrypt(ct)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if !bytes.Equal(plaintext, pt) {
			t.Fatalf("n=%d: round trip mismatch", n)
		}
	}
}

func TestAESCBCRejectsWrongSizeKeys(t *testing.T) {
	if _, err := NewAESCBC(make([]byte, 10), make([]byte, 16)); err == nil {
		t.Fatal("expected an error for a short key")
	}
	if _, err := NewAESCBC(make([]byte, 16), make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a short IV")
	}
}

func TestAESCBCNoPadSingleBlock(t *testing.T) {
	c := newTestCipher(t)
	block := bytes.Repeat([]byte{0x42}, 16)

	ct, err := c.EncryptNoPad(block)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := c.DecryptNoPad(ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(block, pt) {
		t.Fatal("no-pad round trip mismatch")
	}

	if _, err := c.EncryptNoPad(make([]byte, 15)); err == nil {
		t.Fatal("expected EncryptNoPad to reject a non-block-sized input")
	}
}

func TestAESCBCDecryptRejectsCorruptCiphertext(t *testing.T) {
	c := newTestCipher(t)
	ct, err := c.Encrypt([]byte("authenticate this payload, please"))
	if err != nil {
		t.Fatal(err)
	}
	ct[0] ^= 0xFF

	// Corrupting the first block only perturbs that block's plaintext
	// under CBC; it does not reliably break the padding. Truncating
	// instead guarantees a length error, since it is the only failure
	// mode this cipher alone can always detect (CBC carries no MAC).
	if _, err := c.Decrypt(ct[:len(ct)-1]); err != ErrShortCiphertext {
		t.Fatalf("expected ErrShortCiphertext for a truncated ciphertext, got %v", err)
	}
}

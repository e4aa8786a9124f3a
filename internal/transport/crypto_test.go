package transport

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestAESCBCRoundTrip(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand key: %v", err)
	}
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand iv: %v", err)
	}

	tests := [][]byte{
		nil,
		[]byte("a"),
		[]byte("exactly16bytes!!"),
		bytes.Repeat([]byte{0x42}, 1000),
	}

	for _, pt := range tests {
		ct, err := encryptAESCBC(key, iv, pt)
		if err != nil {
			t.Fatalf("encryptAESCBC() error: %v", err)
		}
		got, err := decryptAESCBC(key, iv, ct)
		if err != nil {
			t.Fatalf("decryptAESCBC() error: %v", err)
		}
		if !bytes.Equal(got, pt) && !(len(got) == 0 && len(pt) == 0) {
			t.Errorf("round trip = %x, want %x", got, pt)
		}
	}
}

func TestDecryptBadPaddingFails(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)

	ct := make([]byte, 16)
	if _, err := decryptAESCBC(key, iv, ct); err == nil {
		t.Fatal("decryptAESCBC() with all-zero ciphertext returned nil error, want ErrInvalidPadding")
	}
}

func TestDecryptNonBlockSizedCiphertextFails(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)
	iv := make([]byte, IVSize)

	if _, err := decryptAESCBC(key, iv, []byte{1, 2, 3}); err == nil {
		t.Fatal("decryptAESCBC() with non-block-sized ciphertext returned nil error")
	}
}

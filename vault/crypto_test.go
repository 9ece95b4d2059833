package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestGCMProviderRoundTrip(t *testing.T) {
	provider := GCMProvider{}
	plaintext := []byte("quarterly bank statement contents")

	iv, ciphertext, err := provider.Encrypt(testKey(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("Ciphertext contains the plaintext")
	}

	got, err := provider.Decrypt(testKey(), iv, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypted = %q, want %q", got, plaintext)
	}
}

func TestGCMProviderFreshIVPerEncryption(t *testing.T) {
	provider := GCMProvider{}
	plaintext := []byte("same input")

	iv1, ct1, err := provider.Encrypt(testKey(), plaintext)
	if err != nil {
		t.Fatal(err)
	}
	iv2, ct2, err := provider.Encrypt(testKey(), plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(iv1, iv2) {
		t.Error("IV reused across encryptions")
	}
	if bytes.Equal(ct1, ct2) {
		t.Error("Identical ciphertexts for separate encryptions")
	}
}

func TestGCMProviderTamperedCiphertextFails(t *testing.T) {
	provider := GCMProvider{}
	iv, ciphertext, err := provider.Encrypt(testKey(), []byte("original"))
	if err != nil {
		t.Fatal(err)
	}

	ciphertext[0] ^= 0xff
	_, err = provider.Decrypt(testKey(), iv, ciphertext)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for tampered ciphertext, got %v", err)
	}
}

func TestGCMProviderWrongKeyFails(t *testing.T) {
	provider := GCMProvider{}
	iv, ciphertext, err := provider.Encrypt(testKey(), []byte("original"))
	if err != nil {
		t.Fatal(err)
	}

	other := testKey()
	other[0] ^= 0xff
	if _, err := provider.Decrypt(other, iv, ciphertext); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for wrong key, got %v", err)
	}
}

func TestGCMProviderKeySize(t *testing.T) {
	provider := GCMProvider{}
	for _, size := range []int{0, 16, 24, 31, 33} {
		if _, _, err := provider.Encrypt(make([]byte, size), []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Encrypt with %d-byte key: expected ErrInvalidKey, got %v", size, err)
		}
	}
}

func TestGCMProviderBadIVLength(t *testing.T) {
	provider := GCMProvider{}
	if _, err := provider.Decrypt(testKey(), []byte{1, 2, 3}, []byte("ct")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for short iv, got %v", err)
	}
}

func TestGCMProviderHashDeterministic(t *testing.T) {
	provider := GCMProvider{}
	a := provider.Hash([]byte("content"))
	b := provider.Hash([]byte("content"))
	if !bytes.Equal(a, b) {
		t.Error("Hash should be deterministic")
	}
	if len(a) != 32 {
		t.Errorf("Hash length = %d, want 32", len(a))
	}
	if bytes.Equal(a, provider.Hash([]byte("other"))) {
		t.Error("Different content should hash differently")
	}
}

func TestGCMProviderHMACKeyed(t *testing.T) {
	provider := GCMProvider{}
	a := provider.HMAC([]byte("secret-a"), []byte("payload"))
	b := provider.HMAC([]byte("secret-b"), []byte("payload"))
	if bytes.Equal(a, b) {
		t.Error("Different keys should produce different MACs")
	}
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 32 {
		t.Errorf("Key length = %d, want 32", len(a))
	}
	b, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("Two generated keys should differ")
	}
}

func TestStaticKeyProvider(t *testing.T) {
	provider := StaticKeyProvider{"documents": testKey()}

	key, err := provider.Key(context.Background(), "documents")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key, testKey()) {
		t.Error("Wrong key returned")
	}

	if _, err := provider.Key(context.Background(), "missing"); !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("Expected ErrKeyUnavailable, got %v", err)
	}
}

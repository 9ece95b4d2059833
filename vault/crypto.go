package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKey is returned when the symmetric key has the wrong size.
	ErrInvalidKey = errors.New("vault: invalid encryption key")

	// ErrDecrypt is returned when an envelope cannot be decrypted. It is
	// distinct from transport failures: the bytes arrived but cannot be
	// trusted.
	ErrDecrypt = errors.New("vault: decrypt failed")

	// ErrChecksum is returned when a transfer checksum does not match.
	ErrChecksum = errors.New("vault: checksum mismatch")

	// ErrKeyUnavailable is returned when the key-management collaborator
	// cannot supply a key.
	ErrKeyUnavailable = errors.New("vault: encryption key unavailable")
)

// AlgorithmAESGCM identifies the envelope cipher in the wire format.
const AlgorithmAESGCM = "AES-256-GCM"

// CryptoProvider is the cryptographic capability the transfer manager
// depends on. Implementations must be safe for concurrent use.
type CryptoProvider interface {
	// Encrypt seals plaintext under key, returning the initialization
	// vector and ciphertext separately for the envelope.
	Encrypt(key, plaintext []byte) (iv, ciphertext []byte, err error)
	// Decrypt opens ciphertext sealed by Encrypt.
	Decrypt(key, iv, ciphertext []byte) ([]byte, error)
	// Hash computes the content checksum digest.
	Hash(data []byte) []byte
	// HMAC computes a keyed hash for URL signing.
	HMAC(key, data []byte) []byte
}

// GCMProvider implements CryptoProvider with AES-256-GCM and SHA-256.
// The IV is the GCM nonce; authentication is built into the mode, so a
// tampered envelope fails Decrypt rather than yielding garbage.
type GCMProvider struct{}

func (GCMProvider) Encrypt(key, plaintext []byte) ([]byte, []byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("generating iv: %w", err)
	}

	return iv, aead.Seal(nil, iv, plaintext, nil), nil
}

func (GCMProvider) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv length %d", ErrDecrypt, len(iv))
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (GCMProvider) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (GCMProvider) HMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: need 32 bytes for AES-256, got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// GenerateKey returns a cryptographically secure random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// Envelope is the bundle needed to later decrypt a payload. Created at
// upload, transmitted instead of the plaintext, and discarded; on
// download it is reconstructed from the wire JSON and discarded after
// decrypting.
type Envelope struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	Algorithm  string `json:"algorithm"`
	KeyRef     string `json:"keyRef"`
}

// KeyProvider resolves symmetric keys by reference. The manager never
// persists key material.
type KeyProvider interface {
	Key(ctx context.Context, ref string) ([]byte, error)
}

// StaticKeyProvider serves keys from a fixed map. Intended for tests
// and single-tenant deployments.
type StaticKeyProvider map[string][]byte

func (p StaticKeyProvider) Key(_ context.Context, ref string) ([]byte, error) {
	key, ok := p[ref]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key ref %q", ErrKeyUnavailable, ref)
	}
	return key, nil
}

// SecretSource supplies the server-shared secret the preview URL
// signature is keyed with. The secret itself lives with the
// collaborator, never in this package.
type SecretSource interface {
	Secret() ([]byte, error)
}

// StaticSecret returns a SecretSource over fixed bytes.
func StaticSecret(secret []byte) SecretSource {
	return staticSecret(secret)
}

type staticSecret []byte

func (s staticSecret) Secret() ([]byte, error) { return []byte(s), nil }

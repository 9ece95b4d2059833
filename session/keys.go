package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zalando/go-keyring"
)

// ErrNoKey is returned when a master key cannot be resolved.
var ErrNoKey = errors.New("session: master key unavailable")

// KeyProvider supplies the 32-byte master key the session entry is
// sealed under.
type KeyProvider interface {
	Key(ctx context.Context) ([]byte, error)
}

// StaticKey returns a KeyProvider over fixed bytes. Intended for tests.
func StaticKey(key []byte) KeyProvider {
	return staticKey(key)
}

type staticKey []byte

func (k staticKey) Key(context.Context) ([]byte, error) {
	if len(k) != 32 {
		return nil, fmt.Errorf("%w: need 32 bytes, got %d", ErrNoKey, len(k))
	}
	return []byte(k), nil
}

// EnvKey resolves a base64-encoded master key from an environment
// variable.
type EnvKey struct {
	// Var is the environment variable name.
	Var string
}

func (k EnvKey) Key(context.Context) ([]byte, error) {
	raw := os.Getenv(k.Var)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrNoKey, k.Var)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64", ErrNoKey, k.Var)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: %s must decode to 32 bytes, got %d", ErrNoKey, k.Var, len(key))
	}
	return key, nil
}

// KeychainKey resolves the master key from the OS keychain (Keychain
// Access, Secret Service, or Credential Manager), generating and
// storing a fresh one on first use.
type KeychainKey struct {
	// Service is the keychain service name, typically "titipan".
	Service string
	// Account is the entry name under the service.
	Account string
}

func (k KeychainKey) Key(context.Context) ([]byte, error) {
	value, err := keyring.Get(k.Service, k.Account)
	if err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(value)
		if decodeErr != nil || len(key) != 32 {
			return nil, fmt.Errorf("%w: keychain entry is corrupt", ErrNoKey)
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: keychain inaccessible: %v", ErrNoKey, err)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: generating key: %v", ErrNoKey, err)
	}
	if err := keyring.Set(k.Service, k.Account, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrNoKey, err)
	}
	return key, nil
}

package session

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrSessionReset is returned when the stored entry could not be
	// trusted and was wiped. Callers must re-authenticate.
	ErrSessionReset = errors.New("session: stored session was invalid and has been reset")

	// ErrNoSession is returned when no session has been saved.
	ErrNoSession = errors.New("session: no stored session")
)

// entryName is the single namespaced key all session state lives under.
const entryName = "titipan.session"

// Tokens is the access/refresh token pair.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// Store persists the token pair encrypted at rest: AES-256-GCM under
// the provider's master key, fresh nonce per write, one file entry. It
// implements titipan.TokenSource.
type Store struct {
	mu    sync.Mutex
	path  string
	keys  KeyProvider
	cache *Tokens
}

// NewStore creates a store writing to dir. The entry is created on the
// first Save.
func NewStore(dir string, keys KeyProvider) *Store {
	return &Store{
		path: filepath.Join(dir, entryName),
		keys: keys,
	}
}

// Save seals the token pair and replaces the stored entry. Each write
// uses a fresh random nonce.
func (s *Store) Save(ctx context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	sealed, err := s.seal(ctx, plaintext)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.path, sealed, 0o600); err != nil {
		return fmt.Errorf("writing session entry: %w", err)
	}
	copied := tokens
	s.cache = &copied
	return nil
}

// Load decrypts and returns the stored token pair. On any decryption
// or structural failure the entry is wiped and ErrSessionReset
// returned: a broken entry is never trusted.
func (s *Store) Load(ctx context.Context) (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) (*Tokens, error) {
	if s.cache != nil {
		copied := *s.cache
		return &copied, nil
	}

	sealed, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("reading session entry: %w", err)
	}

	plaintext, err := s.open(ctx, sealed)
	if err != nil {
		s.wipeLocked()
		return nil, fmt.Errorf("%w: %v", ErrSessionReset, err)
	}

	var tokens Tokens
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		s.wipeLocked()
		return nil, fmt.Errorf("%w: malformed entry", ErrSessionReset)
	}
	if tokens.AccessToken == "" {
		s.wipeLocked()
		return nil, fmt.Errorf("%w: empty access token", ErrSessionReset)
	}

	s.cache = &tokens
	copied := tokens
	return &copied, nil
}

// Clear wipes the stored entry and the in-memory copy.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wipeLocked()
	return nil
}

func (s *Store) wipeLocked() {
	s.cache = nil
	os.Remove(s.path)
}

// Token implements titipan.TokenSource: it returns the current access
// token for bearer attachment.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.loadLocked(ctx)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// seal encrypts plaintext under the master key: nonce-prefixed
// AES-256-GCM ciphertext.
func (s *Store) seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	aead, err := s.aead(ctx)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) open(ctx context.Context, sealed []byte) ([]byte, error) {
	aead, err := s.aead(ctx)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("entry too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

func (s *Store) aead(ctx context.Context) (cipher.AEAD, error) {
	key, err := s.keys.Key(ctx)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

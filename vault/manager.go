package vault

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/titipan"
	"github.com/ambiyansyah-risyal/titipan/internal/flight"
)

// API is the slice of the request orchestrator the transfer manager
// uses. *titipan.Client satisfies it.
type API interface {
	Do(ctx context.Context, req *titipan.Request, out any) (*titipan.Response, error)
}

// ChecksumHeader carries the content checksum on download responses.
const ChecksumHeader = "X-Checksum"

// Manager is the secure document transfer manager. It composes the
// orchestrator with injected crypto, key-management, and signing
// collaborators, and reports progress through the Tracker.
type Manager struct {
	api     API
	crypto  CryptoProvider
	keys    KeyProvider
	keyRef  string
	secret  SecretSource
	tracker *Tracker
	metrics *Metrics
	logger  titipan.Logger

	maxSize      int64
	allowedTypes map[string]bool
	timeout      time.Duration
	tokenTTL     time.Duration

	downloads *flight.Group
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// NewManager creates a transfer manager over the given orchestrator.
func NewManager(api API, options ...ManagerOption) *Manager {
	m := &Manager{
		api:          api,
		crypto:       GCMProvider{},
		keyRef:       "documents",
		maxSize:      DefaultMaxSize,
		allowedTypes: make(map[string]bool),
		timeout:      60 * time.Second,
		tokenTTL:     30 * time.Minute,
		downloads:    flight.New(),
	}
	for _, ct := range DefaultAllowedTypes {
		m.allowedTypes[ct] = true
	}

	for _, option := range options {
		option(m)
	}

	if m.tracker == nil {
		m.tracker = NewTracker(m.metrics)
	}
	return m
}

// WithCrypto replaces the default AES-256-GCM provider.
func WithCrypto(provider CryptoProvider) ManagerOption {
	return func(m *Manager) { m.crypto = provider }
}

// WithKeys sets the key-management collaborator and the reference the
// manager encrypts under.
func WithKeys(provider KeyProvider, keyRef string) ManagerOption {
	return func(m *Manager) {
		m.keys = provider
		if keyRef != "" {
			m.keyRef = keyRef
		}
	}
}

// WithSigningSecret sets the collaborator holding the server-shared
// secret preview URLs are signed with.
func WithSigningSecret(source SecretSource) ManagerOption {
	return func(m *Manager) { m.secret = source }
}

// WithTracker sets a shared lifecycle tracker.
func WithTracker(tracker *Tracker) ManagerOption {
	return func(m *Manager) { m.tracker = tracker }
}

// WithMetrics sets the transfer metrics collector.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets a logger for transfer debug output.
func WithLogger(logger titipan.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMaxSize overrides the upload size ceiling.
func WithMaxSize(bytes int64) ManagerOption {
	return func(m *Manager) { m.maxSize = bytes }
}

// WithAllowedTypes replaces the content-type allow-list.
func WithAllowedTypes(contentTypes ...string) ManagerOption {
	return func(m *Manager) {
		m.allowedTypes = make(map[string]bool, len(contentTypes))
		for _, ct := range contentTypes {
			m.allowedTypes[ct] = true
		}
	}
}

// WithTransferTimeout overrides the per-attempt transfer timeout.
func WithTransferTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithAccessTokenTTL overrides the default preview URL validity window.
func WithAccessTokenTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.tokenTTL = d }
}

// Tracker returns the lifecycle tracker observers subscribe to.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// uploadPayload is the wire shape of the upload call. Exactly one of
// Content and Envelope is set.
type uploadPayload struct {
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
	Checksum    string            `json:"checksum"`
	Encrypted   bool              `json:"encrypted"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Content     []byte            `json:"content,omitempty"`
	Envelope    *Envelope         `json:"envelope,omitempty"`
}

// Upload validates, optionally encrypts, and transmits file to
// destination through the orchestrator, then verifies the server-echoed
// checksum. The mutation is non-idempotent unless
// options.IdempotencyKey is set, in which case interrupted uploads are
// retried safely.
func (m *Manager) Upload(ctx context.Context, file File, destination string, options UploadOptions) (*Document, error) {
	job := m.tracker.Begin("", DirectionUpload, int64(len(file.Data)))

	if err := m.validateFile(file); err != nil {
		m.tracker.Fail(job)
		return nil, err
	}

	checksum := hex.EncodeToString(m.crypto.Hash(file.Data))

	payload := uploadPayload{
		Name:        file.Name,
		ContentType: file.ContentType,
		Size:        int64(len(file.Data)),
		Checksum:    checksum,
		Encrypted:   options.Encrypt,
		Metadata:    options.Metadata,
	}

	if options.Encrypt {
		key, err := m.key(ctx, m.keyRef)
		if err != nil {
			m.tracker.Fail(job)
			return nil, err
		}
		iv, ciphertext, err := m.crypto.Encrypt(key, file.Data)
		if err != nil {
			m.tracker.Fail(job)
			return nil, fmt.Errorf("encrypting %s: %w", file.Name, err)
		}
		payload.Envelope = &Envelope{
			IV:         iv,
			Ciphertext: ciphertext,
			Algorithm:  AlgorithmAESGCM,
			KeyRef:     m.keyRef,
		}
	} else {
		payload.Content = file.Data
	}

	if m.logger != nil {
		m.logger.Debug("Uploading document", "name", file.Name, "size", len(file.Data), "encrypted", options.Encrypt, "job", job.ID)
	}
	m.tracker.Advance(job, PhaseTransferring)

	var doc Document
	resp, err := m.api.Do(ctx, &titipan.Request{
		Method:         http.MethodPost,
		Path:           destination,
		Body:           payload,
		IdempotencyKey: options.IdempotencyKey,
		Timeout:        m.timeout,
	}, &doc)
	if err != nil {
		m.tracker.Fail(job)
		return nil, err
	}
	m.tracker.SetDocument(job, doc.ID)
	m.tracker.SetRetries(job, resp.Attempts-1)

	m.tracker.Advance(job, PhaseVerifying)
	if !strings.EqualFold(doc.Checksum, checksum) {
		m.metrics.RecordVerification("mismatch")
		m.tracker.Fail(job)
		return nil, &titipan.APIError{
			Kind:          titipan.KindIntegrity,
			Message:       "server checksum does not match uploaded content",
			CorrelationID: resp.CorrelationID,
			Cause:         ErrChecksum,
			Timestamp:     time.Now(),
		}
	}
	m.metrics.RecordVerification("match")

	m.tracker.Done(job)
	return &doc, nil
}

// Download streams the document's content through the orchestrator,
// verifies the checksum header when present, and optionally decrypts
// locally. Concurrent downloads of the same document and options
// collapse onto a single transfer.
func (m *Manager) Download(ctx context.Context, documentID string, options DownloadOptions) ([]byte, error) {
	key := fmt.Sprintf("%s?decrypt=%t", documentID, options.Decrypt)
	value, _, err := m.downloads.Do(ctx, key, func() (any, error) {
		return m.download(ctx, documentID, options)
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

func (m *Manager) download(ctx context.Context, documentID string, options DownloadOptions) ([]byte, error) {
	job := m.tracker.Begin(documentID, DirectionDownload, 0)
	m.tracker.Advance(job, PhaseTransferring)

	var raw []byte
	resp, err := m.api.Do(ctx, &titipan.Request{
		Method:  http.MethodGet,
		Path:    "/documents/" + documentID + "/content",
		Raw:     true,
		Timeout: m.timeout,
	}, &raw)
	if err != nil {
		m.tracker.Fail(job)
		return nil, err
	}
	m.tracker.SetRetries(job, resp.Attempts-1)
	m.tracker.SetBytes(job, int64(len(raw)))

	m.tracker.Advance(job, PhaseVerifying)
	if echoed := resp.Header.Get(ChecksumHeader); echoed != "" {
		local := hex.EncodeToString(m.crypto.Hash(raw))
		if !strings.EqualFold(echoed, local) {
			m.metrics.RecordVerification("mismatch")
			m.tracker.Fail(job)
			return nil, &titipan.APIError{
				Kind:          titipan.KindIntegrity,
				Message:       "downloaded content does not match checksum header",
				CorrelationID: resp.CorrelationID,
				Cause:         ErrChecksum,
				Timestamp:     time.Now(),
			}
		}
		m.metrics.RecordVerification("match")
	}

	data := raw
	if options.Decrypt {
		data, err = m.decrypt(ctx, raw)
		if err != nil {
			m.tracker.Fail(job)
			return nil, err
		}
	}

	m.tracker.Done(job)
	return data, nil
}

// decrypt reconstructs the envelope from the wire format and opens it.
// Failures are integrity errors, deliberately distinct from transport
// failures.
func (m *Manager) decrypt(ctx context.Context, raw []byte) ([]byte, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &titipan.APIError{
			Kind:      titipan.KindIntegrity,
			Message:   "malformed encryption envelope",
			Cause:     fmt.Errorf("%w: %v", ErrDecrypt, err),
			Timestamp: time.Now(),
		}
	}

	keyRef := envelope.KeyRef
	if keyRef == "" {
		keyRef = m.keyRef
	}
	key, err := m.key(ctx, keyRef)
	if err != nil {
		return nil, err
	}

	plaintext, err := m.crypto.Decrypt(key, envelope.IV, envelope.Ciphertext)
	if err != nil {
		return nil, &titipan.APIError{
			Kind:      titipan.KindIntegrity,
			Message:   "envelope decryption failed",
			Cause:     err,
			Timestamp: time.Now(),
		}
	}
	return plaintext, nil
}

func (m *Manager) key(ctx context.Context, ref string) ([]byte, error) {
	if m.keys == nil {
		return nil, fmt.Errorf("%w: no key provider configured", ErrKeyUnavailable)
	}
	return m.keys.Key(ctx, ref)
}

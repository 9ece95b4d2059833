package vault

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/titipan"
	"github.com/google/uuid"
)

// PermissionDocumentsRead is the capability required to issue and use
// preview URLs.
const PermissionDocumentsRead = "documents:read"

// AccessToken is a short-lived signed credential scoping access to one
// document for one requester. Expiry is the sole invalidation
// mechanism: there is no server-side revocation, so callers must treat
// an unexpired token as advisory until the server re-validates on
// access.
type AccessToken struct {
	DocumentID  string
	RequesterID string
	ExpiresAt   time.Time
	Signature   string
	TrackingID  string

	// Watermark asks the server to render the preview watermarked.
	Watermark bool
	// Restrictions is an optional capability list carried on the URL.
	Restrictions []string
}

// URL renders the signed preview path:
//
//	/documents/{id}/preview?token=…&expires=<epoch-millis>&watermark=0|1[&restrictions=a,b]
func (t *AccessToken) URL() string {
	query := url.Values{}
	query.Set("token", t.Signature)
	query.Set("expires", strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10))
	if t.Watermark {
		query.Set("watermark", "1")
	} else {
		query.Set("watermark", "0")
	}
	if len(t.Restrictions) > 0 {
		query.Set("restrictions", strings.Join(t.Restrictions, ","))
	}
	return fmt.Sprintf("/documents/%s/preview?%s", url.PathEscape(t.DocumentID), query.Encode())
}

// IssueAccessURL produces a signed, time-boxed access token for one
// document and requester. permissions must include documents:read; ttl
// defaults to the manager's configured window (30 minutes) when zero.
func (m *Manager) IssueAccessURL(documentID, requesterID string, permissions []string, ttl time.Duration) (*AccessToken, error) {
	if !hasPermission(permissions, PermissionDocumentsRead) {
		return nil, &titipan.APIError{
			Kind:      titipan.KindAuthorization,
			Message:   fmt.Sprintf("requester %s lacks %s", requesterID, PermissionDocumentsRead),
			Timestamp: time.Now(),
		}
	}
	if m.secret == nil {
		return nil, fmt.Errorf("vault: no signing secret configured")
	}

	if ttl <= 0 {
		ttl = m.tokenTTL
	}

	token := &AccessToken{
		DocumentID:  documentID,
		RequesterID: requesterID,
		ExpiresAt:   time.Now().Add(ttl),
		TrackingID:  uuid.NewString(),
	}

	signature, err := m.sign(token)
	if err != nil {
		return nil, err
	}
	token.Signature = signature

	if m.logger != nil {
		m.logger.Debug("Issued access URL", "document", documentID, "requester", requesterID, "expires", token.ExpiresAt, "tracking", token.TrackingID)
	}
	return token, nil
}

// VerifyAccessToken checks the signature and expiry of a token at the
// given instant. A token with ttl T verifies at T-1ms and fails at
// T+1ms.
func (m *Manager) VerifyAccessToken(token *AccessToken, at time.Time) error {
	expected, err := m.sign(token)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(token.Signature)) {
		return &titipan.APIError{
			Kind:      titipan.KindAuthorization,
			Message:   "access token signature mismatch",
			Timestamp: time.Now(),
		}
	}
	if !at.Before(token.ExpiresAt) {
		return &titipan.APIError{
			Kind:      titipan.KindAuthorization,
			Message:   "access token expired",
			Timestamp: time.Now(),
		}
	}
	return nil
}

// sign computes the keyed hash over the token's identity fields. The
// expiry enters as epoch millis so the signature survives time zone and
// monotonic clock differences.
func (m *Manager) sign(token *AccessToken) (string, error) {
	secret, err := m.secret.Secret()
	if err != nil {
		return "", fmt.Errorf("resolving signing secret: %w", err)
	}
	payload := strings.Join([]string{
		token.DocumentID,
		token.RequesterID,
		strconv.FormatInt(token.ExpiresAt.UnixMilli(), 10),
		token.TrackingID,
	}, "|")
	return hex.EncodeToString(m.crypto.HMAC(secret, []byte(payload))), nil
}

func hasPermission(permissions []string, required string) bool {
	for _, p := range permissions {
		if p == required {
			return true
		}
	}
	return false
}

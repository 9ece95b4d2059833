package titipan

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Middleware wraps an outbound attempt for cross-cutting concerns
// (auditing, extra headers, fault injection in tests).
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the transport interface middleware composes around.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to the RoundTripper interface.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TokenSource supplies the bearer token attached to every request.
// Implementations may load, cache, or refresh behind this call; an
// error fails the request with an authentication error before any
// network traffic.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// CSRFTokenSource supplies the forgery-protection token attached to
// mutating requests.
type CSRFTokenSource interface {
	CSRFToken(ctx context.Context) (string, error)
}

// StaticTokenSource returns a TokenSource that always yields token.
func StaticTokenSource(token string) TokenSource {
	return staticToken(token)
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

// GroupFunc maps a request to its endpoint group. Circuit breakers and
// rate limiters are keyed per group.
type GroupFunc func(req *Request) string

// DefaultGroupFunc uses the first path segment, so /documents/42 and
// /documents/42/content share one breaker.
func DefaultGroupFunc(req *Request) string {
	path := strings.TrimPrefix(req.Path, "/")
	if idx := strings.IndexByte(path, '/'); idx != -1 {
		path = path[:idx]
	}
	if path == "" {
		return "default"
	}
	return path
}

// DedupKeyFunc builds a key identifying identical in-flight requests.
type DedupKeyFunc func(req *Request, body []byte) string

// DedupCondition decides whether a request is eligible for deduplication.
type DedupCondition func(req *Request) bool

// DefaultDedupCondition coalesces safe read methods only. Mutations are
// never deduplicated implicitly, even when an idempotency key is set.
func DefaultDedupCondition(req *Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}

// Pagination carries the server-supplied paging block, when present.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// RateLimitInfo is parsed from the rate-limit response headers on every
// completed attempt.
type RateLimitInfo struct {
	Remaining int
	Limit     int
	Reset     time.Time
}

// FieldDetail is one field-level validation finding from the server.
type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

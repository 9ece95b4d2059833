package titipan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one logical API call. It is treated as immutable
// once submitted to Do: the client never mutates it, and callers must
// not modify it while the call is in flight.
type Request struct {
	// Method is the HTTP verb: GET, POST, PUT, PATCH, DELETE, HEAD.
	Method string
	// Path is the resource path relative to the client base URL,
	// e.g. "/applications".
	Path string
	// Query holds the query parameters, encoded deterministically.
	Query url.Values
	// Body is marshaled to JSON once per logical request; retries reuse
	// the same bytes. []byte and json.RawMessage bodies pass through
	// unmarshaled.
	Body any
	// IdempotencyKey marks a mutating request as safe to retry. It is
	// sent as the Idempotency-Key header. Empty means the mutation is
	// attempted exactly once.
	IdempotencyKey string
	// Timeout overrides the client's per-attempt timeout when positive.
	Timeout time.Duration
	// Raw skips envelope decoding: the response payload is returned as
	// bytes. Used for binary document content.
	Raw bool
	// Group overrides the endpoint group the client's GroupFunc would
	// resolve.
	Group string
	// RetryPolicy overrides the client's policy for this request only.
	RetryPolicy RetryPolicy
	// MaxAttempts caps the number of network attempts for this request
	// when positive, leaving the policy's backoff parameters untouched.
	// Zero means the policy's own cap applies.
	MaxAttempts int
	// Header carries extra headers merged into every attempt.
	Header http.Header
}

func (r *Request) validate() error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q", r.Method)
	}
	if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must start with /, got %q", r.Path)
	}
	return nil
}

// marshalBody serializes the request body once. Retries rebuild the
// outbound *http.Request from these same bytes.
func (r *Request) marshalBody() ([]byte, error) {
	switch body := r.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return body, nil
	case json.RawMessage:
		return body, nil
	default:
		return json.Marshal(body)
	}
}

// idempotent reports whether the request may be safely repeated: reads
// always, mutations only with an explicit idempotency key.
func (r *Request) idempotent() bool {
	if !isMutating(r.Method) {
		return true
	}
	return r.IdempotencyKey != ""
}

func (r *Request) urlString(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/") + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// build constructs the outbound request for one attempt. The
// per-attempt context (carrying the attempt timeout) is supplied by
// the retry loop.
func (r *Request) build(ctx context.Context, baseURL string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.urlString(baseURL), reader)
	if err != nil {
		return nil, err
	}

	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, values := range r.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	return httpReq, nil
}

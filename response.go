package titipan

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Response is the canonical success result. Data stays raw until the
// caller's out pointer decodes it, so deduplicated callers can each
// decode the shared payload into their own destination.
type Response struct {
	Status        int
	Message       string
	Data          json.RawMessage
	Raw           []byte
	Pagination    *Pagination
	CorrelationID string
	Timestamp     time.Time
	RateLimit     *RateLimitInfo
	Attempts      int
	Header        http.Header
}

// Decode unmarshals the payload into out. out may be nil (payload
// discarded), a *[]byte (raw bytes), or any JSON target pointer.
func (r *Response) Decode(out any) error {
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		src := []byte(r.Data)
		if r.Raw != nil {
			src = r.Raw
		}
		// Copy so one dedup waiter mutating its slice cannot corrupt
		// the shared Response another waiter received.
		*raw = append([]byte(nil), src...)
		return nil
	}
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// successEnvelope is the platform's canonical success wire shape.
type successEnvelope struct {
	Data          json.RawMessage `json:"data"`
	Message       string          `json:"message"`
	Pagination    *Pagination     `json:"pagination"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     time.Time       `json:"timestamp"`
}

// errorEnvelope is the platform's canonical error wire shape.
type errorEnvelope struct {
	Code          string        `json:"code"`
	Message       string        `json:"message"`
	Status        int           `json:"status"`
	Details       []FieldDetail `json:"details"`
	Retryable     bool          `json:"retryable"`
	CorrelationID string        `json:"correlationId"`
	Timestamp     time.Time     `json:"timestamp"`
}

// buildResponse interprets a successful HTTP body. Raw requests skip
// envelope handling entirely. Non-envelope JSON payloads (no data
// field) are treated as the payload itself, so the client also works
// against endpoints that skip the wrapper.
func buildResponse(req *Request, status int, header http.Header, body []byte, correlationID string, attempts int) *Response {
	resp := &Response{
		Status:        status,
		CorrelationID: correlationID,
		Attempts:      attempts,
		Header:        header,
		RateLimit:     parseRateLimit(header),
	}

	if req.Raw {
		resp.Raw = body
		return resp
	}

	var env successEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Data != nil {
		resp.Data = env.Data
		resp.Message = env.Message
		resp.Pagination = env.Pagination
		resp.Timestamp = env.Timestamp
		if env.CorrelationID != "" {
			resp.CorrelationID = env.CorrelationID
		}
		return resp
	}

	resp.Data = body
	return resp
}

// parseRateLimit reads the three rate-limit introspection headers.
// Returns nil when none are present.
func parseRateLimit(header http.Header) *RateLimitInfo {
	remaining := header.Get("X-RateLimit-Remaining")
	limit := header.Get("X-RateLimit-Limit")
	reset := header.Get("X-RateLimit-Reset")
	if remaining == "" && limit == "" && reset == "" {
		return nil
	}

	info := &RateLimitInfo{Reset: parseEpochSeconds(reset)}
	fmt.Sscanf(remaining, "%d", &info.Remaining)
	fmt.Sscanf(limit, "%d", &info.Limit)
	return info
}

// resetTimeFrom derives the retry reset hint from response headers,
// preferring Retry-After over X-RateLimit-Reset.
func resetTimeFrom(header http.Header) time.Time {
	if t := parseRetryAfter(header.Get("Retry-After")); !t.IsZero() {
		return t
	}
	return parseEpochSeconds(header.Get("X-RateLimit-Reset"))
}

package titipan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorKind classifies a failure for retry decisions and for callers.
// The values match the `code` field of the platform's error envelope.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindAuthorization  ErrorKind = "authorization"
	KindNotFound       ErrorKind = "not_found"
	KindRateLimited    ErrorKind = "rate_limited"
	KindTimeout        ErrorKind = "timeout"
	KindServer         ErrorKind = "server"
	KindNetwork        ErrorKind = "network"
	KindCircuitOpen    ErrorKind = "circuit_open"
	KindIntegrity      ErrorKind = "integrity"
	KindCancelled      ErrorKind = "cancelled"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the endpoint group's breaker rejects the call.
	ErrCircuitOpen = errors.New("titipan: circuit open")

	// ErrRateLimited is returned when the local rate limiter denies a request.
	ErrRateLimited = errors.New("titipan: rate limited")
)

// APIError is the canonical error surfaced by the client. Exactly one
// APIError terminates a logical request, after any retries are exhausted.
type APIError struct {
	Kind          ErrorKind
	Message       string
	Status        int
	Details       []FieldDetail
	Retryable     bool
	CorrelationID string

	Method      string
	URL         string
	Group       string
	Attempts    int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
	Cause       error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.CorrelationID != "" {
		msg = fmt.Sprintf("[%s] %s", e.CorrelationID, msg)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempts, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches other APIErrors by kind, and the package sentinels by
// their corresponding kind, so errors.Is(err, ErrCircuitOpen) works
// without callers digging out the struct.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrCircuitOpen:
		return e.Kind == KindCircuitOpen
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	}
	if other, ok := target.(*APIError); ok {
		return e.Kind == other.Kind
	}
	return false
}

// IsRetryable reports whether the error represents a transient failure
// the retry policy may act on. Circuit-open rejections are transient for
// the caller but deliberately excluded: retrying them defeats the breaker.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindNetwork, KindTimeout, KindServer, KindRateLimited:
			return true
		}
		return false
	}
	return false
}

// classifyTransport maps a transport-level error (no response obtained)
// to an error kind. Caller cancellation is distinguished from deadline
// expiry: the former is terminal, the latter retryable.
func classifyTransport(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// classifyStatus maps an HTTP status to an error kind. Unknown 4xx codes
// are treated as validation failures: the server rejected the request
// shape and a retry cannot change that.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

// knownKind reports whether the server-supplied error code is one of the
// canonical kinds; unknown codes fall back to status classification.
func knownKind(code string) bool {
	switch ErrorKind(code) {
	case KindValidation, KindAuthentication, KindAuthorization, KindNotFound,
		KindRateLimited, KindTimeout, KindServer, KindNetwork,
		KindCircuitOpen, KindIntegrity, KindCancelled:
		return true
	}
	return false
}

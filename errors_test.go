package titipan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestAPIErrorError(t *testing.T) {
	err := &APIError{Kind: KindServer, Message: "request failed"}
	if got := err.Error(); got != "server: request failed" {
		t.Errorf("Error() = %q", got)
	}

	err = &APIError{
		Kind:          KindTimeout,
		Message:       "request timed out",
		CorrelationID: "abc-123",
		Attempts:      3,
		MaxAttempts:   3,
		Cause:         errors.New("context deadline exceeded"),
	}
	got := err.Error()
	for _, want := range []string{"abc-123", "timeout", "attempt 3/3", "context deadline exceeded"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}

	var nilErr *APIError
	if nilErr.Error() != "<nil>" {
		t.Errorf("nil Error() = %q", nilErr.Error())
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &APIError{Kind: KindNetwork, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause through Unwrap")
	}
}

func TestAPIErrorIsSentinels(t *testing.T) {
	open := &APIError{Kind: KindCircuitOpen}
	if !errors.Is(open, ErrCircuitOpen) {
		t.Error("circuit_open error should match ErrCircuitOpen")
	}
	if errors.Is(open, ErrRateLimited) {
		t.Error("circuit_open error should not match ErrRateLimited")
	}

	limited := &APIError{Kind: KindRateLimited}
	if !errors.Is(limited, ErrRateLimited) {
		t.Error("rate_limited error should match ErrRateLimited")
	}

	// Kind-based matching between APIErrors.
	if !errors.Is(limited, &APIError{Kind: KindRateLimited}) {
		t.Error("APIErrors with the same kind should match")
	}
	if errors.Is(limited, &APIError{Kind: KindServer}) {
		t.Error("APIErrors with different kinds should not match")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindNetwork, true},
		{KindTimeout, true},
		{KindServer, true},
		{KindRateLimited, true},
		{KindValidation, false},
		{KindAuthentication, false},
		{KindAuthorization, false},
		{KindNotFound, false},
		{KindCircuitOpen, false},
		{KindIntegrity, false},
		{KindCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := IsRetryable(&APIError{Kind: tt.kind}); got != tt.want {
				t.Errorf("IsRetryable(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}

	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) = true")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("IsRetryable(plain error) = true")
	}
	if !IsRetryable(fmt.Errorf("wrapped: %w", &APIError{Kind: KindServer})) {
		t.Error("IsRetryable should unwrap to the APIError")
	}
}

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"caller cancellation", context.Canceled, KindCancelled},
		{"deadline expiry", context.DeadlineExceeded, KindTimeout},
		{"wrapped cancellation", fmt.Errorf("round trip: %w", context.Canceled), KindCancelled},
		{"net timeout", timeoutNetError{}, KindTimeout},
		{"plain failure", errors.New("connection refused"), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyTransport(tt.err); got != tt.want {
				t.Errorf("classifyTransport = %s, want %s", got, tt.want)
			}
		})
	}
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthorization},
		{http.StatusNotFound, KindNotFound},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindServer},
		{http.StatusBadGateway, KindServer},
		{http.StatusServiceUnavailable, KindServer},
		{http.StatusGatewayTimeout, KindServer},
		{http.StatusConflict, KindValidation},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassifyBody(t *testing.T) {
	kind, wire := classifyBody(503, []byte(`{"code":"server","message":"upstream exploded"}`))
	if kind != KindServer {
		t.Errorf("Kind = %s, want server", kind)
	}
	if wire == nil || wire.Message != "upstream exploded" {
		t.Errorf("Wire = %+v, want the envelope", wire)
	}

	// An unknown wire code falls back to status classification but
	// keeps the envelope for messages and details.
	kind, wire = classifyBody(503, []byte(`{"code":"weird","message":"hm"}`))
	if kind != KindServer {
		t.Errorf("Kind = %s, want server fallback for unknown code", kind)
	}
	if wire == nil {
		t.Error("Envelope should survive an unknown code")
	}

	kind, wire = classifyBody(404, []byte(`not json at all`))
	if kind != KindNotFound {
		t.Errorf("Kind = %s, want not_found", kind)
	}
	if wire != nil {
		t.Error("Non-JSON body should yield no envelope")
	}
}

func TestCancelKind(t *testing.T) {
	if got := cancelKind(context.Canceled); got != KindCancelled {
		t.Errorf("cancelKind(Canceled) = %s", got)
	}
	if got := cancelKind(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("cancelKind(DeadlineExceeded) = %s", got)
	}
	if got := cancelKind(fmt.Errorf("wrap: %w", context.DeadlineExceeded)); got != KindTimeout {
		t.Errorf("cancelKind(wrapped deadline) = %s", got)
	}
}

func TestAPIErrorTimestamps(t *testing.T) {
	before := time.Now()
	client := New(WithBaseURL("http://localhost:0"))
	err := client.newError(&Request{Method: http.MethodGet, Path: "/x"}, "x", "cid", KindNetwork, "boom", nil, 0, 1, before)
	if err.Timestamp.Before(before) {
		t.Error("Timestamp should be set at error construction")
	}
	if err.Duration < 0 {
		t.Error("Duration should be non-negative")
	}
	if !err.Retryable {
		t.Error("network errors are retryable")
	}
}

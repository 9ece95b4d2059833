package titipan

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	client := New(WithBaseURL("https://api.example.com"))
	if !client.IsValid() {
		t.Fatalf("Default configuration should validate: %v", client.ValidationError())
	}
	if client.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", client.timeout)
	}
	if client.maxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want 3", client.maxAttempts)
	}
	if client.base != 500*time.Millisecond {
		t.Errorf("base = %v, want 500ms", client.base)
	}
	if client.ceiling != 10*time.Second {
		t.Errorf("ceiling = %v, want 10s", client.ceiling)
	}
	if client.multiplier != 2.0 {
		t.Errorf("multiplier = %f, want 2.0", client.multiplier)
	}
	if client.jitter != 0.1 {
		t.Errorf("jitter = %f, want 0.1", client.jitter)
	}
	if client.retryPolicy == nil {
		t.Error("Expected a default retry policy")
	}
	if client.dedup == nil {
		t.Error("Deduplication should default on")
	}
	if client.limiters != nil {
		t.Error("Local rate limiting should default off")
	}
	if client.metrics != nil {
		t.Error("Metrics should default off")
	}
	if client.tracer != nil {
		t.Error("Tracing should default off")
	}
}

func TestWithBaseURLTrimsSlash(t *testing.T) {
	client := New(WithBaseURL("https://api.example.com/"))
	if client.baseURL != "https://api.example.com" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
	}
}

func TestWithJitterClamps(t *testing.T) {
	if client := New(WithBaseURL("http://x"), WithJitter(-0.5)); client.jitter != 0 {
		t.Errorf("jitter = %f, want clamped to 0", client.jitter)
	}
	if client := New(WithBaseURL("http://x"), WithJitter(1.5)); client.jitter != 1 {
		t.Errorf("jitter = %f, want clamped to 1", client.jitter)
	}
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		finding string
	}{
		{"negative timeout", []Option{WithTimeout(-time.Second)}, "timeout must be positive"},
		{"huge timeout", []Option{WithTimeout(11 * time.Minute)}, "timeout > 10m"},
		{"zero attempts", []Option{WithMaxAttempts(0)}, "maxAttempts must be at least 1"},
		{"excessive attempts", []Option{WithMaxAttempts(101)}, "maxAttempts > 100"},
		{"zero base", []Option{WithBackoff(0, time.Second, 2.0)}, "backoff base must be positive"},
		{"ceiling below base", []Option{WithBackoff(time.Second, time.Millisecond, 2.0)}, "ceiling must be greater"},
		{"huge ceiling", []Option{WithBackoff(time.Second, 2 * time.Hour, 2.0)}, "ceiling > 1h"},
		{"zero multiplier", []Option{WithBackoff(time.Second, time.Minute, 0)}, "multiplier must be positive"},
		{"nil http client", []Option{WithHTTPClient(nil)}, "HTTP client cannot be nil"},
		{"nil group func", []Option{WithGroupFunc(nil)}, "group function cannot be nil"},
		{"nil dedup key func", []Option{WithDedupKeyFunc(nil)}, "deduplication key function"},
		{"nil dedup condition", []Option{WithDedupCondition(nil)}, "deduplication condition"},
		{"debug without logger", []Option{WithDebug()}, "logger must be set"},
		{"nil middleware", []Option{WithMiddleware(nil)}, "middleware[0] cannot be nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := append([]Option{WithBaseURL("http://localhost")}, tt.options...)
			client := New(options...)
			if client.IsValid() {
				t.Fatal("Expected invalid configuration")
			}
			err := client.ValidationError()
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Kind != KindValidation {
				t.Fatalf("Expected validation APIError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.finding) && (apiErr.Cause == nil || !strings.Contains(apiErr.Cause.Error(), tt.finding)) {
				t.Errorf("Validation error %v missing finding %q", err, tt.finding)
			}
		})
	}
}

func TestValidateConfigurationAggregates(t *testing.T) {
	client := New(
		WithBaseURL("http://localhost"),
		WithTimeout(-time.Second),
		WithMaxAttempts(0),
		WithBackoff(0, time.Minute, 0),
	)
	err := client.ValidationError()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Cause == nil {
		t.Fatalf("Expected aggregated cause, got %v", err)
	}
	cause := apiErr.Cause.Error()
	for _, finding := range []string{"timeout must be positive", "maxAttempts must be at least 1", "backoff base must be positive", "multiplier must be positive"} {
		if !strings.Contains(cause, finding) {
			t.Errorf("Aggregated error missing %q:\n%s", finding, cause)
		}
	}
}

func TestWithoutDeduplication(t *testing.T) {
	client := New(WithBaseURL("http://localhost"), WithoutDeduplication())
	if client.dedup != nil {
		t.Error("Deduplication should be disabled")
	}
	if !client.IsValid() {
		t.Errorf("Disabling dedup should not trip validation: %v", client.ValidationError())
	}
}

func TestWithGroupBreaker(t *testing.T) {
	client := New(
		WithBaseURL("http://localhost"),
		WithGroupBreaker("documents", BreakerConfig{ErrorThreshold: 0.25}),
	)
	breaker := client.breakers.get("documents")
	if breaker.config.ErrorThreshold != 0.25 {
		t.Errorf("documents threshold = %f, want 0.25", breaker.config.ErrorThreshold)
	}
	if other := client.breakers.get("applications"); other.config.ErrorThreshold != 0.5 {
		t.Errorf("other groups should use the shared default, got %f", other.config.ErrorThreshold)
	}
}

func TestWithCircuitBreakerKeepsGroupOverrides(t *testing.T) {
	client := New(
		WithBaseURL("http://localhost"),
		WithGroupBreaker("documents", BreakerConfig{ErrorThreshold: 0.25}),
		WithCircuitBreaker(BreakerConfig{ErrorThreshold: 0.9}),
	)
	if breaker := client.breakers.get("documents"); breaker.config.ErrorThreshold != 0.25 {
		t.Errorf("documents threshold = %f, want the 0.25 override to survive", breaker.config.ErrorThreshold)
	}
	if other := client.breakers.get("applications"); other.config.ErrorThreshold != 0.9 {
		t.Errorf("other groups threshold = %f, want the shared 0.9", other.config.ErrorThreshold)
	}
}

func TestWithSimpleLoggerEnablesDebug(t *testing.T) {
	client := New(WithBaseURL("http://localhost"), WithSimpleLogger())
	if !client.IsValid() {
		t.Fatalf("Expected valid configuration: %v", client.ValidationError())
	}
	if client.debug == nil || !client.debug.Enabled {
		t.Error("WithSimpleLogger should enable debug")
	}
	if client.logger == nil {
		t.Error("WithSimpleLogger should install a logger")
	}
}

func TestWithGroupFunc(t *testing.T) {
	client := New(WithBaseURL("http://localhost"), WithGroupFunc(func(req *Request) string {
		return "custom"
	}))
	if got := client.groupFunc(&Request{Method: http.MethodGet, Path: "/anything"}); got != "custom" {
		t.Errorf("groupFunc = %q, want custom", got)
	}
}

func TestDefaultGroupFunc(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/applications", "applications"},
		{"/applications/42", "applications"},
		{"/documents/42/content", "documents"},
		{"/", "default"},
		{"", "default"},
	}
	for _, tt := range tests {
		got := DefaultGroupFunc(&Request{Method: http.MethodGet, Path: tt.path})
		if got != tt.want {
			t.Errorf("DefaultGroupFunc(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

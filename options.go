package titipan

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithBaseURL sets the platform API base URL, e.g. "https://api.example.com".
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-attempt timeout for general calls.
// Transfers override it per request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxAttempts sets the total network attempt ceiling per logical
// request (1 means no retries).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithBackoff sets the exponential backoff parameters used by the
// default retry policy.
func WithBackoff(base, ceiling time.Duration, multiplier float64) Option {
	return func(c *Client) {
		c.base = base
		c.ceiling = ceiling
		c.multiplier = multiplier
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0).
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithRetryPolicy replaces the default retry policy entirely.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithCircuitBreaker sets the breaker configuration shared by all
// endpoint groups. Groups registered with WithGroupBreaker keep their
// dedicated configuration regardless of option order.
func WithCircuitBreaker(config BreakerConfig) Option {
	return func(c *Client) {
		c.breakers.setDefault(config)
	}
}

// WithGroupBreaker installs a dedicated breaker configuration for one
// endpoint group.
func WithGroupBreaker(group string, config BreakerConfig) Option {
	return func(c *Client) {
		c.breakers.register(group, config.withDefaults())
	}
}

// WithGroupFunc overrides how requests map to endpoint groups.
func WithGroupFunc(fn GroupFunc) Option {
	return func(c *Client) {
		c.groupFunc = fn
	}
}

// WithoutDeduplication disables read coalescing.
func WithoutDeduplication() Option {
	return func(c *Client) {
		c.dedup = nil
	}
}

// WithDedupKeyFunc sets a custom deduplication key function.
func WithDedupKeyFunc(fn DedupKeyFunc) Option {
	return func(c *Client) {
		c.dedupKeyFunc = fn
	}
}

// WithDedupCondition sets a custom deduplication eligibility check.
// Widening it beyond reads is only safe for mutations the server
// treats as idempotent.
func WithDedupCondition(fn DedupCondition) Option {
	return func(c *Client) {
		c.dedupCondition = fn
	}
}

// WithRateLimiter enables the local token-bucket throttle with the
// given fallback rate for all endpoint groups.
func WithRateLimiter(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiters = NewLimiterRegistry(limit, burst)
	}
}

// WithGroupRateLimit installs a dedicated bucket for one endpoint
// group. Requires WithRateLimiter first.
func WithGroupRateLimit(group string, limit rate.Limit, burst int) Option {
	return func(c *Client) {
		if c.limiters != nil {
			c.limiters.Register(group, limit, burst)
		}
	}
}

// WithMiddleware appends middleware composed around the transport on
// every attempt, outermost first.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithTokenSource sets the bearer token collaborator.
func WithTokenSource(source TokenSource) Option {
	return func(c *Client) {
		c.tokens = source
	}
}

// WithCSRFTokenSource sets the forgery-protection token collaborator
// consulted for mutating calls.
func WithCSRFTokenSource(source CSRFTokenSource) Option {
	return func(c *Client) {
		c.csrf = source
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithTracing enables OpenTelemetry spans per logical request using
// the globally registered tracer provider.
func WithTracing() Option {
	return func(c *Client) {
		c.tracer = otel.Tracer("github.com/ambiyansyah-risyal/titipan")
	}
}

// WithTracer sets an explicit tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the current configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// ValidateConfiguration validates the client configuration and returns
// an error aggregating every finding, or nil.
func (c *Client) ValidateConfiguration() error {
	var findings []string

	findings = append(findings, c.validateCoreConfig()...)
	findings = append(findings, c.validateRetryConfig()...)
	findings = append(findings, c.validateDedupConfig()...)
	findings = append(findings, c.validateDebugConfig()...)
	findings = append(findings, c.validateMiddlewareConfig()...)

	if len(findings) > 0 {
		return &APIError{
			Kind:    KindValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", findings),
		}
	}
	return nil
}

func (c *Client) validateCoreConfig() []string {
	var findings []string

	if c.httpClient == nil {
		findings = append(findings, "HTTP client cannot be nil")
	}
	if c.timeout <= 0 {
		findings = append(findings, "timeout must be positive")
	}
	if c.timeout > 10*time.Minute {
		findings = append(findings, "timeout > 10m may cause requests to hang for too long")
	}
	if c.groupFunc == nil {
		findings = append(findings, "group function cannot be nil")
	}

	return findings
}

func (c *Client) validateRetryConfig() []string {
	var findings []string

	if c.maxAttempts < 1 {
		findings = append(findings, "maxAttempts must be at least 1")
	}
	if c.maxAttempts > 100 {
		findings = append(findings, "maxAttempts > 100 may cause excessive resource usage")
	}
	if c.base <= 0 {
		findings = append(findings, "backoff base must be positive")
	}
	if c.ceiling < c.base {
		findings = append(findings, "backoff ceiling must be greater than or equal to base")
	}
	if c.ceiling > time.Hour {
		findings = append(findings, "backoff ceiling > 1h may cause extremely long delays")
	}
	if c.multiplier <= 0 {
		findings = append(findings, "backoff multiplier must be positive")
	}
	if c.jitter < 0 || c.jitter > 1 {
		findings = append(findings, "jitter must be between 0 and 1")
	}

	return findings
}

func (c *Client) validateDedupConfig() []string {
	var findings []string

	if c.dedup != nil {
		if c.dedupKeyFunc == nil {
			findings = append(findings, "deduplication key function must be set when deduplication is enabled")
		}
		if c.dedupCondition == nil {
			findings = append(findings, "deduplication condition must be set when deduplication is enabled")
		}
	}

	return findings
}

func (c *Client) validateDebugConfig() []string {
	var findings []string

	if c.debug != nil && c.debug.Enabled && c.logger == nil {
		findings = append(findings, "logger must be set when debug is enabled")
	}

	return findings
}

func (c *Client) validateMiddlewareConfig() []string {
	var findings []string

	for i, mw := range c.middleware {
		if mw == nil {
			findings = append(findings, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return findings
}

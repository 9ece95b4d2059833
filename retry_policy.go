package titipan

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/titipan/internal/backoff"
)

// Attempt describes a failed network attempt for the retry policy.
// Number is 1-based: the first attempt that fails is Number 1.
type Attempt struct {
	Kind       ErrorKind
	Status     int
	Method     string
	Number     int
	Idempotent bool
	// ResetAt is the server-supplied rate-limit reset time, when the
	// response carried one. Zero when absent.
	ResetAt time.Time
}

// RetryPolicy decides whether a failed attempt is retried and after
// what delay. Implementations must be safe for concurrent use.
type RetryPolicy interface {
	Decide(a Attempt) (time.Duration, bool)
}

// DefaultRetryPolicy retries transient failures with exponential
// backoff and jitter, honoring server-supplied rate-limit reset times
// and never retrying a mutation that lacks an idempotency key.
type DefaultRetryPolicy struct {
	maxAttempts int
	base        time.Duration
	ceiling     time.Duration
	multiplier  float64
	jitter      float64
	strategy    backoff.Strategy
}

// NewDefaultRetryPolicy creates the standard policy. maxAttempts counts
// total network attempts, not retries: 3 means up to 2 retries.
func NewDefaultRetryPolicy(maxAttempts int, base, ceiling time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxAttempts: maxAttempts,
		base:        base,
		ceiling:     ceiling,
		multiplier:  multiplier,
		jitter:      jitter,
		strategy:    backoff.ExponentialJitterStrategy{},
	}
}

// NewRetryPolicyWithStrategy creates a policy with a specific backoff strategy.
func NewRetryPolicyWithStrategy(maxAttempts int, base, ceiling time.Duration, multiplier, jitter float64, strategy backoff.Strategy) *DefaultRetryPolicy {
	p := NewDefaultRetryPolicy(maxAttempts, base, ceiling, multiplier, jitter)
	if strategy != nil {
		p.strategy = strategy
	}
	return p
}

// Decide implements RetryPolicy.
func (p *DefaultRetryPolicy) Decide(a Attempt) (time.Duration, bool) {
	if a.Number >= p.maxAttempts {
		return 0, false
	}

	if !retryableKind(a.Kind) {
		return 0, false
	}

	// Mutations are only safe to repeat when the caller marked them
	// idempotent. Reads are always eligible.
	if isMutating(a.Method) && !a.Idempotent {
		return 0, false
	}

	if a.Kind == KindRateLimited {
		if delay := untilReset(a.ResetAt); delay > 0 {
			return delay, true
		}
		// Reset missing or already in the past: fall back to backoff.
	}

	return p.strategy.Delay(a.Number, p.base, p.ceiling, p.multiplier, p.jitter), true
}

// MaxAttempts exposes the attempt ceiling for error reporting.
func (p *DefaultRetryPolicy) MaxAttempts() int { return p.maxAttempts }

func retryableKind(kind ErrorKind) bool {
	switch kind {
	case KindNetwork, KindTimeout, KindServer, KindRateLimited:
		return true
	default:
		return false
	}
}

// untilReset converts a reset timestamp into a wait, capped at one hour
// to guard against clock skew and hostile headers.
func untilReset(resetAt time.Time) time.Duration {
	if resetAt.IsZero() {
		return 0
	}
	delay := time.Until(resetAt)
	if delay <= 0 {
		return 0
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// parseRetryAfter parses a Retry-After header value, supporting both
// delta-seconds and HTTP-date formats. Returns zero time when absent
// or unparseable.
func parseRetryAfter(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			return time.Now().Add(time.Duration(seconds) * time.Second)
		}
		return time.Time{}
	}

	if t, err := http.ParseTime(value); err == nil {
		return t
	}

	return time.Time{}
}

// parseEpochSeconds parses an X-RateLimit-Reset style value (epoch
// seconds). Returns zero time when absent or unparseable.
func parseEpochSeconds(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

package titipan

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterRegistry applies a local token-bucket throttle per endpoint
// group, with a shared fallback for groups without an override. A
// denied request fails fast with a rate_limited error before any
// network traffic.
type LimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	fallback *rate.Limiter
}

// NewLimiterRegistry creates a registry whose fallback bucket admits
// limit events per second with the given burst.
func NewLimiterRegistry(limit rate.Limit, burst int) *LimiterRegistry {
	return &LimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		fallback: rate.NewLimiter(limit, burst),
	}
}

// Register installs a dedicated bucket for one endpoint group.
func (r *LimiterRegistry) Register(group string, limit rate.Limit, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[group] = rate.NewLimiter(limit, burst)
}

func (r *LimiterRegistry) limiter(group string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.limiters[group]; ok {
		return l
	}
	return r.fallback
}

// Allow reports whether one request for the group may proceed now.
func (r *LimiterRegistry) Allow(group string) bool {
	l := r.limiter(group)
	if l == nil {
		return true
	}
	return l.Allow()
}

// Tokens returns the group's currently available tokens, for metrics.
func (r *LimiterRegistry) Tokens(group string) float64 {
	l := r.limiter(group)
	if l == nil {
		return 0
	}
	return l.Tokens()
}

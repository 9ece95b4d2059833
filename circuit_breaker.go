package titipan

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int64

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning for one endpoint group.
type BreakerConfig struct {
	// ErrorThreshold opens the circuit when the rolling error rate
	// reaches it. Expressed as a fraction in (0, 1].
	ErrorThreshold float64
	// MinSamples is the minimum number of attempts in the window before
	// the threshold is evaluated.
	MinSamples int64
	// Window is the rolling sample window; counters reset when it rolls.
	Window time.Duration
	// ResetTimeout is how long an open circuit waits before admitting a
	// single half-open probe.
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ErrorThreshold == 0 {
		c.ErrorThreshold = 0.5
	}
	if c.MinSamples == 0 {
		c.MinSamples = 10
	}
	if c.Window == 0 {
		c.Window = 60 * time.Second
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// CircuitBreaker tracks the rolling error rate for one endpoint group
// and rejects calls while open. All state lives in atomics so
// concurrent successes and failures never corrupt the counters.
type CircuitBreaker struct {
	config BreakerConfig

	state       int64
	errors      int64
	total       int64
	windowStart int64 // nanoseconds
	openedAt    int64 // nanoseconds of last transition into open
	probe       int32 // half-open single-probe latch
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config:      config.withDefaults(),
		state:       int64(StateClosed),
		windowStart: time.Now().UnixNano(),
	}
}

// State returns the current state without side effects.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(atomic.LoadInt64(&cb.state))
}

// CanAttempt is a non-mutating peek: it reports whether an attempt
// could currently pass Allow. Used before creating a dedup entry so a
// call blocked by an open circuit never enters the dedup cache.
func (cb *CircuitBreaker) CanAttempt() bool {
	switch cb.State() {
	case StateClosed:
		return true
	case StateOpen:
		openedAt := atomic.LoadInt64(&cb.openedAt)
		return time.Now().UnixNano()-openedAt >= int64(cb.config.ResetTimeout)
	case StateHalfOpen:
		return atomic.LoadInt32(&cb.probe) == 0
	default:
		return false
	}
}

// Allow reports whether the attempt may proceed, consuming the single
// half-open probe slot when applicable.
func (cb *CircuitBreaker) Allow() bool {
	now := time.Now().UnixNano()

	switch cb.State() {
	case StateClosed:
		cb.rollWindow(now)
		return true
	case StateOpen:
		openedAt := atomic.LoadInt64(&cb.openedAt)
		if now-openedAt < int64(cb.config.ResetTimeout) {
			return false
		}
		if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
			atomic.StoreInt32(&cb.probe, 0)
		}
		// Whether this goroutine or a concurrent one made the
		// transition, exactly one of them wins the probe slot.
		return atomic.CompareAndSwapInt32(&cb.probe, 0, 1)
	case StateHalfOpen:
		return atomic.CompareAndSwapInt32(&cb.probe, 0, 1)
	default:
		return false
	}
}

// RecordSuccess feeds a successful attempt into the rolling counters.
// A successful half-open probe closes the circuit and resets the window.
func (cb *CircuitBreaker) RecordSuccess() {
	now := time.Now().UnixNano()

	switch cb.State() {
	case StateHalfOpen:
		if atomic.CompareAndSwapInt64(&cb.state, int64(StateHalfOpen), int64(StateClosed)) {
			atomic.StoreInt64(&cb.errors, 0)
			atomic.StoreInt64(&cb.total, 0)
			atomic.StoreInt64(&cb.windowStart, now)
		}
	case StateClosed:
		cb.rollWindow(now)
		atomic.AddInt64(&cb.total, 1)
	}
}

// RecordFailure feeds a failed attempt into the rolling counters,
// opening the circuit when the error rate crosses the threshold. A
// failed half-open probe reopens immediately and restarts the reset clock.
func (cb *CircuitBreaker) RecordFailure() {
	now := time.Now().UnixNano()

	switch cb.State() {
	case StateHalfOpen:
		if atomic.CompareAndSwapInt64(&cb.state, int64(StateHalfOpen), int64(StateOpen)) {
			atomic.StoreInt64(&cb.openedAt, now)
		}
	case StateClosed:
		cb.rollWindow(now)
		errors := atomic.AddInt64(&cb.errors, 1)
		total := atomic.AddInt64(&cb.total, 1)
		if total >= cb.config.MinSamples && float64(errors)/float64(total) >= cb.config.ErrorThreshold {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateClosed), int64(StateOpen)) {
				atomic.StoreInt64(&cb.openedAt, now)
			}
		}
	}
}

// rollWindow resets the counters when the rolling window has elapsed.
// The CAS makes a single goroutine the resetter; stragglers keep
// counting into the fresh window.
func (cb *CircuitBreaker) rollWindow(now int64) {
	start := atomic.LoadInt64(&cb.windowStart)
	if now-start < int64(cb.config.Window) {
		return
	}
	if atomic.CompareAndSwapInt64(&cb.windowStart, start, now) {
		atomic.StoreInt64(&cb.errors, 0)
		atomic.StoreInt64(&cb.total, 0)
	}
}

// BreakerSnapshot is a point-in-time view of one breaker, for metrics
// and tests.
type BreakerSnapshot struct {
	State       BreakerState
	Errors      int64
	Total       int64
	WindowStart time.Time
	OpenedAt    time.Time
}

// Snapshot captures the breaker's counters. Values are read
// independently, so a snapshot taken during heavy concurrency is
// approximate.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	snap := BreakerSnapshot{
		State:       cb.State(),
		Errors:      atomic.LoadInt64(&cb.errors),
		Total:       atomic.LoadInt64(&cb.total),
		WindowStart: time.Unix(0, atomic.LoadInt64(&cb.windowStart)),
	}
	if openedAt := atomic.LoadInt64(&cb.openedAt); openedAt > 0 {
		snap.OpenedAt = time.Unix(0, openedAt)
	}
	return snap
}

// Reset returns the breaker to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	atomic.StoreInt64(&cb.state, int64(StateClosed))
	atomic.StoreInt64(&cb.errors, 0)
	atomic.StoreInt64(&cb.total, 0)
	atomic.StoreInt64(&cb.windowStart, time.Now().UnixNano())
	atomic.StoreInt64(&cb.openedAt, 0)
	atomic.StoreInt32(&cb.probe, 0)
}

// breakerRegistry owns one CircuitBreaker per endpoint group, created
// lazily from a shared config. Group-specific overrides are registered
// up front via options.
type breakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
}

func newBreakerRegistry(config BreakerConfig) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config.withDefaults(),
	}
}

func (r *breakerRegistry) get(group string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[group]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[group]; ok {
		return cb
	}
	cb = NewCircuitBreaker(r.config)
	r.breakers[group] = cb
	return cb
}

// setDefault replaces the configuration used for groups that have no
// dedicated breaker yet. Breakers already registered keep their own
// configuration.
func (r *breakerRegistry) setDefault(config BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config.withDefaults()
}

func (r *breakerRegistry) register(group string, config BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[group] = NewCircuitBreaker(config)
}

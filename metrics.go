package titipan

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request
// lifecycle and reliability layers. All Record methods are safe on a
// nil receiver so instrumentation never needs guarding.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterTokens  *prometheus.GaugeVec
	rateLimitRemaining *prometheus.GaugeVec

	dedupHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the
// supplied registerer, letting tests isolate registries.
func NewMetricsCollectorWithRegistry(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_requests_total",
				Help: "Total number of API requests completed",
			},
			[]string{"method", "status_code", "group"},
		),
		requestDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "titipan_request_duration_seconds",
				Help:    "Duration of API requests in seconds, including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "group"},
		),
		requestsInFlight: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "titipan_requests_in_flight",
				Help: "Number of logical requests currently in flight",
			},
			[]string{"method", "group"},
		),
		retriesTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "group", "attempt"},
		),
		circuitBreakerState: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "titipan_circuit_breaker_state",
				Help: "Current breaker state per endpoint group (0=closed, 1=open, 2=half-open)",
			},
			[]string{"group"},
		),
		rateLimiterTokens: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "titipan_rate_limiter_tokens",
				Help: "Available local rate limiter tokens per endpoint group",
			},
			[]string{"group"},
		),
		rateLimitRemaining: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "titipan_rate_limit_remaining",
				Help: "Server-reported remaining rate limit per endpoint group",
			},
			[]string{"group"},
		),
		dedupHits: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_deduplication_hits_total",
				Help: "Total number of requests coalesced onto an in-flight call",
			},
			[]string{"method", "group"},
		),
		errorsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_errors_total",
				Help: "Total number of errors by kind",
			},
			[]string{"kind", "method", "group"},
		),
		registerer: registerer,
	}
}

// RecordRequest records the terminal outcome and duration of a logical request.
func (mc *MetricsCollector) RecordRequest(method, group string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, group).Inc()
	mc.requestDuration.WithLabelValues(method, code, group).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, group string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, group).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, group string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, group).Dec()
}

// RecordRetry counts one retry attempt.
func (mc *MetricsCollector) RecordRetry(method, group string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, group, strconv.Itoa(attempt)).Inc()
}

// RecordBreakerState sets the breaker state gauge for a group.
func (mc *MetricsCollector) RecordBreakerState(group string, state BreakerState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(group).Set(float64(state))
}

// RecordLimiterTokens sets the local token gauge for a group.
func (mc *MetricsCollector) RecordLimiterTokens(group string, tokens float64) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(group).Set(tokens)
}

// RecordRateLimitRemaining sets the server-reported remaining gauge.
func (mc *MetricsCollector) RecordRateLimitRemaining(group string, remaining int) {
	if mc == nil {
		return
	}
	mc.rateLimitRemaining.WithLabelValues(group).Set(float64(remaining))
}

// RecordDedupHit counts a request coalesced onto an in-flight call.
func (mc *MetricsCollector) RecordDedupHit(method, group string) {
	if mc == nil {
		return
	}
	mc.dedupHits.WithLabelValues(method, group).Inc()
}

// RecordError counts one terminal or per-attempt error by kind.
func (mc *MetricsCollector) RecordError(kind ErrorKind, method, group string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(kind), method, group).Inc()
}

// Registerer exposes the registerer metrics were registered on.
func (mc *MetricsCollector) Registerer() prometheus.Registerer {
	if mc == nil {
		return nil
	}
	return mc.registerer
}

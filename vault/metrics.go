package vault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for document transfers. Record
// methods are safe on a nil receiver.
type Metrics struct {
	transfersTotal   *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	transferRetries  *prometheus.CounterVec
	verifications    *prometheus.CounterVec
}

// NewMetrics creates transfer metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates transfer metrics on the supplied
// registerer.
func NewMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		transfersTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_transfers_total",
				Help: "Total number of settled document transfers",
			},
			[]string{"direction", "outcome"},
		),
		transferBytes: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_transfer_bytes_total",
				Help: "Total bytes moved by document transfers",
			},
			[]string{"direction"},
		),
		transferDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "titipan_transfer_duration_seconds",
				Help:    "Duration of document transfers in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction", "outcome"},
		),
		transferRetries: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_transfer_retries_total",
				Help: "Total network retries consumed by document transfers",
			},
			[]string{"direction"},
		),
		verifications: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "titipan_transfer_verifications_total",
				Help: "Checksum verification outcomes",
			},
			[]string{"outcome"},
		),
	}
}

// RecordTransfer records a settled transfer.
func (m *Metrics) RecordTransfer(direction Direction, outcome string, duration time.Duration, bytes int64, retries int) {
	if m == nil {
		return
	}
	dir := string(direction)
	m.transfersTotal.WithLabelValues(dir, outcome).Inc()
	m.transferDuration.WithLabelValues(dir, outcome).Observe(duration.Seconds())
	if bytes > 0 {
		m.transferBytes.WithLabelValues(dir).Add(float64(bytes))
	}
	if retries > 0 {
		m.transferRetries.WithLabelValues(dir).Add(float64(retries))
	}
}

// RecordVerification records one checksum verification outcome.
func (m *Metrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

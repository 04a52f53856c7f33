package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cryptblk/cryptblk/pkg/metrics"
)

// backendMetrics is the Prometheus implementation of metrics.BackendMetrics.
type backendMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// NewBackendMetrics creates a Prometheus-backed BackendMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBackendMetrics() metrics.BackendMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &backendMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptblk_backend_operations_total",
				Help: "Backend operations by backend, operation and outcome",
			},
			[]string{"backend", "op", "outcome"}, // outcome: "ok" or "error"
		),
		latency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptblk_backend_operation_duration_seconds",
				Help:    "Backend operation latency by backend and operation",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
			},
			[]string{"backend", "op"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptblk_backend_bytes_total",
				Help: "Bytes moved by backend and direction",
			},
			[]string{"backend", "direction"},
		),
	}
}

// ObserveOperation records one backend operation.
func (m *backendMetrics) ObserveOperation(backend, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(backend, op, outcome).Inc()
	m.latency.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordBytes records payload bytes moved by a backend.
func (m *backendMetrics) RecordBytes(backend, direction string, bytes int64) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(backend, direction).Add(float64(bytes))
}

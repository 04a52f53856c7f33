// Package prometheus provides the Prometheus-backed implementations of the
// metrics interfaces. Constructors return nil when the registry has not been
// initialized, and every method tolerates a nil receiver, so callers wire
// metrics unconditionally and pay nothing when collection is off.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cryptblk/cryptblk/pkg/metrics"
)

// cryptMetrics is the Prometheus implementation of metrics.CryptMetrics.
type cryptMetrics struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
}

// NewCryptMetrics creates a Prometheus-backed CryptMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCryptMetrics() metrics.CryptMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &cryptMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptblk_requests_total",
				Help: "Completed requests by device, operation and completion status",
			},
			[]string{"device", "op", "status"},
		),
		latency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptblk_request_duration_seconds",
				Help:    "Submission-to-completion latency by device and operation",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"device", "op"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptblk_bytes_total",
				Help: "Payload bytes processed by device and operation",
			},
			[]string{"device", "op"},
		),
		dispatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptblk_dispatches_total",
				Help: "Conversion dispatch decisions by device and execution path",
			},
			[]string{"device", "path"}, // "inline", "worker", "deferred"
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptblk_queue_depth",
				Help: "Current executor backlog by device and queue",
			},
			[]string{"device", "queue"}, // "workqueue", "writer", "deferred"
		),
	}
}

// RecordRequest records one completed request.
func (m *cryptMetrics) RecordRequest(device, op string, bytes int, duration time.Duration, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(device, op, status).Inc()
	m.latency.WithLabelValues(device, op).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytes.WithLabelValues(device, op).Add(float64(bytes))
	}
}

// RecordDispatch records a dispatch decision.
func (m *cryptMetrics) RecordDispatch(device, path string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(device, path).Inc()
}

// SetQueueDepth updates an executor backlog gauge.
func (m *cryptMetrics) SetQueueDepth(device, queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(device, queue).Set(float64(depth))
}

package metrics

import "time"

// CryptMetrics provides observability for the encryption data path.
//
// Implementations collect per-request outcomes and dispatch decisions. The
// interface is optional - pass nil to disable collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	dev, err := crypt.New(crypt.Config{..., Metrics: prometheus.NewCryptMetrics()})
//
//	// Without metrics (pass nil for zero overhead)
//	dev, err := crypt.New(crypt.Config{...})
type CryptMetrics interface {
	// RecordRequest records one completed request.
	//
	// Parameters:
	//   - device: device name
	//   - op: operation name ("read", "write", "flush", "trim")
	//   - bytes: payload size in bytes, zero for flush and trim
	//   - duration: submission-to-completion latency
	//   - status: completion status label ("success", "integrity-error",
	//     "provider-failure", "io-error")
	RecordRequest(device, op string, bytes int, duration time.Duration, status string)

	// RecordDispatch records the execution context chosen for one request's
	// conversion.
	//
	// Parameters:
	//   - device: device name
	//   - path: dispatch path ("inline", "worker", "deferred")
	RecordDispatch(device, path string)

	// SetQueueDepth updates the current backlog of one executor queue.
	//
	// Parameters:
	//   - device: device name
	//   - queue: queue name ("workqueue", "writer", "deferred")
	//   - depth: current queued task count
	SetQueueDepth(device, queue string, depth int)
}

package metrics

import "time"

// BackendMetrics provides observability for storage backends: the file and
// S3 block devices and the tag stores. Optional - pass nil to disable
// collection with zero overhead.
type BackendMetrics interface {
	// ObserveOperation records one backend operation with its outcome.
	//
	// Parameters:
	//   - backend: backend name (e.g. "filedev", "s3dev", "tagstore-badger")
	//   - op: operation name (e.g. "read", "write", "GetObject", "save_tags")
	//   - duration: time the operation took
	//   - err: error if the operation failed, nil on success
	ObserveOperation(backend, op string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by a backend.
	//
	// Parameters:
	//   - backend: backend name
	//   - direction: "read" or "write"
	//   - bytes: number of bytes transferred
	RecordBytes(backend, direction string, bytes int64)
}

// ObserveOperation forwards to m when metrics are enabled. Keeps call sites
// free of nil checks.
func ObserveOperation(m BackendMetrics, backend, op string, duration time.Duration, err error) {
	if m != nil {
		m.ObserveOperation(backend, op, duration, err)
	}
}

// RecordBytes forwards to m when metrics are enabled.
func RecordBytes(m BackendMetrics, backend, direction string, bytes int64) {
	if m != nil {
		m.RecordBytes(backend, direction, bytes)
	}
}

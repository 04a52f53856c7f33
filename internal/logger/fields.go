package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently across
// log statements so lines aggregate and query cleanly.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Device & Operation
	// ========================================================================
	KeyDevice  = "device"  // encrypted device name
	KeyOp      = "op"      // block operation: read, write, flush, trim
	KeyBackend = "backend" // underlying backend: memory, file, s3
	KeyCipher  = "cipher"  // cipher transform name
	KeyIVMode  = "iv_mode" // IV derivation mode

	// ========================================================================
	// I/O Geometry
	// ========================================================================
	KeySector     = "sector"      // first logical sector of a request
	KeySectors    = "sectors"     // request length in sectors
	KeySectorSize = "sector_size" // data unit size in bytes
	KeyUnits      = "units"       // data units in a conversion
	KeyLane       = "lane"        // dispatch lane index

	// ========================================================================
	// Dispatch
	// ========================================================================
	KeyDispatch = "dispatch" // chosen path: inline, workqueue, deferred
	KeyPending  = "pending"  // queued work items
	KeyWorkers  = "workers"  // worker goroutine count

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyRemoteIP  = "remote_ip"  // API client IP address
	KeyUsername  = "username"   // authenticated user
	KeyRequestID = "request_id" // API request ID

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyStatus     = "status"      // HTTP or operation status

	// ========================================================================
	// Storage Backends
	// ========================================================================
	KeyPath      = "path"       // file path (filedev, config, stores)
	KeyBucket    = "bucket"     // S3 bucket name
	KeyKey       = "key"        // object key in cloud storage
	KeyRegion    = "region"     // cloud region
	KeyTagStore  = "tag_store"  // integrity tag store type
	KeyStoreType = "store_type" // control-plane store type
)

// Err returns a standard error attribute, tolerating nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Sector formats a sector number attribute.
func Sector(n uint64) slog.Attr {
	return slog.Uint64(KeySector, n)
}

// FormatBytes renders a byte count in a compact human-readable form for
// log lines.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

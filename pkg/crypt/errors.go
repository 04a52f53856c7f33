package crypt

import "errors"

// ============================================================================
// Standard Crypt Errors
// ============================================================================

var (
	// ErrPending is returned by Transform when the provider accepted the
	// request and will invoke its completion callback later. It is a status,
	// not a failure, and is never surfaced to callers of the device.
	ErrPending = errors.New("transform pending")

	// ErrIntegrity indicates a data unit failed authentication on decrypt.
	// Conversion of the owning request stops and the request completes with
	// this error. The layer never retries; retry policy belongs to callers.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrProvider indicates the cipher provider rejected or failed a request
	// for reasons other than authentication, such as refusing work while
	// backlog is disallowed. The underlying cause is wrapped.
	ErrProvider = errors.New("cipher provider failure")

	// ErrDeviceClosed indicates I/O was submitted after Close began.
	ErrDeviceClosed = errors.New("crypt device closed")
)

// Completion status labels used in logs and metrics.
const (
	StatusSuccess         = "success"
	StatusIntegrityError  = "integrity-error"
	StatusProviderFailure = "provider-failure"
	StatusIOError         = "io-error"
)

// CompletionStatus maps a completion error to its status label. Errors that
// did not originate in this layer, such as underlying device failures, report
// as io-error.
func CompletionStatus(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrIntegrity):
		return StatusIntegrityError
	case errors.Is(err, ErrProvider):
		return StatusProviderFailure
	default:
		return StatusIOError
	}
}

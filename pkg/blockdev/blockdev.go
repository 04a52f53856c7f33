// Package blockdev defines the block device model shared by every layer in
// cryptblk: a sector-addressed Device, an asynchronous Request with a
// completion callback, and the CallerContext capability token that tells a
// layer whether the code currently running is allowed to block.
//
// Devices are stackable. The encryption layer in pkg/crypt implements Device
// on top of another Device, so backends (memdev, filedev, s3dev) and the
// encrypted view expose the same surface to callers.
package blockdev

import "errors"

// Op identifies the kind of work a Request asks a Device to perform.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpFlush
	OpTrim
)

// String returns the lowercase operation name used in logs and metrics labels.
func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFlush:
		return "flush"
	case OpTrim:
		return "trim"
	default:
		return "unknown"
	}
}

// ============================================================================
// Standard Device Errors
// ============================================================================

var (
	// ErrClosed indicates the device has been closed and accepts no more I/O.
	ErrClosed = errors.New("device closed")

	// ErrOutOfRange indicates the request addresses sectors beyond the device.
	ErrOutOfRange = errors.New("request out of range")

	// ErrUnaligned indicates the request length is not a whole number of sectors.
	ErrUnaligned = errors.New("request not sector aligned")

	// ErrNotSupported indicates the device does not implement the operation.
	ErrNotSupported = errors.New("operation not supported")
)

// ============================================================================
// Caller Context
// ============================================================================

// CallerContext is a capability token describing the execution context a
// call or callback runs in. Completion paths that emulate interrupt-side
// delivery (filedev pollers, memdev async mode) hand out a non-blockable
// token; code receiving one must not block and must not enqueue work onto
// pools that may block.
//
// The zero value is non-blockable, so a forgotten token fails safe.
type CallerContext struct {
	mayBlock bool
}

// Blockable returns a token for ordinary goroutine context where blocking is
// allowed.
func Blockable() CallerContext { return CallerContext{mayBlock: true} }

// NonBlockable returns a token for completion or interrupt-like context where
// blocking is forbidden.
func NonBlockable() CallerContext { return CallerContext{} }

// MayBlock reports whether the holder is allowed to perform blocking
// operations in the current context.
func (c CallerContext) MayBlock() bool { return c.mayBlock }

// ============================================================================
// Requests
// ============================================================================

// CompletionFunc is invoked exactly once when a Request finishes. The token
// describes the context the callback runs in, not the context the request was
// submitted from: a callback delivered by a completion poller receives a
// non-blockable token even if Submit was called from a blockable goroutine.
type CompletionFunc func(cc CallerContext, err error)

// Request describes one block I/O operation.
//
// For OpRead and OpWrite, Data must be a whole number of device sectors and
// Sector is the first logical sector touched. For OpTrim, Length is the
// number of sectors to discard and Data is ignored. OpFlush carries no
// payload.
//
// Submit is fire-and-forget: the device takes ownership of the Request until
// OnComplete fires. Callers must not touch Data in between.
type Request struct {
	Op         Op
	Sector     uint64
	Data       []byte
	Length     uint64
	OnComplete CompletionFunc
}

// Complete invokes the completion callback, if any. Devices call this exactly
// once per accepted request.
func (r *Request) Complete(cc CallerContext, err error) {
	if r.OnComplete != nil {
		r.OnComplete(cc, err)
	}
}

// Sectors returns the number of sectors the request spans on a device with
// the given sector size.
func (r *Request) Sectors(sectorSize int) uint64 {
	switch r.Op {
	case OpRead, OpWrite:
		return uint64(len(r.Data) / sectorSize)
	case OpTrim:
		return r.Length
	default:
		return 0
	}
}

// ============================================================================
// Device
// ============================================================================

// Device is a fixed-size, sector-addressed block device with asynchronous
// submission.
//
// Submit never blocks the caller beyond what the supplied CallerContext
// permits: a device given a non-blockable token must either complete the
// request without blocking or defer the work internally. Completion is
// signalled through Request.OnComplete exactly once per accepted request.
type Device interface {
	// SectorSize returns the size in bytes of one logical sector. Constant
	// for the life of the device.
	SectorSize() int

	// Sectors returns the device capacity in sectors.
	Sectors() uint64

	// Submit queues one request for execution. The token describes the
	// submitting context. Validation failures and post-close submissions are
	// reported through the request's completion callback, never by panicking.
	Submit(req *Request, cc CallerContext)

	// Close flushes and releases the device after all in-flight requests
	// complete. Requests submitted after Close fail with ErrClosed.
	Close() error
}

// Validate checks request geometry against a device. Devices call this before
// accepting a request so every backend rejects bad geometry the same way.
func Validate(d Device, req *Request) error {
	switch req.Op {
	case OpRead, OpWrite:
		if len(req.Data) == 0 || len(req.Data)%d.SectorSize() != 0 {
			return ErrUnaligned
		}
		n := uint64(len(req.Data) / d.SectorSize())
		if req.Sector+n < req.Sector || req.Sector+n > d.Sectors() {
			return ErrOutOfRange
		}
	case OpTrim:
		if req.Sector+req.Length < req.Sector || req.Sector+req.Length > d.Sectors() {
			return ErrOutOfRange
		}
	case OpFlush:
	default:
		return ErrNotSupported
	}
	return nil
}

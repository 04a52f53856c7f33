// Package bufpool provides a tiered buffer pool for the I/O hot path.
//
// Every write through the encryption layer needs a ciphertext buffer the
// size of the request, and every AEAD transform needs a small seal scratch.
// Allocating those per request would dominate the allocation profile, so the
// pool keeps three sync.Pool size classes sized for sector workloads:
//
//   - small (4KiB): one data unit plus AEAD overhead
//   - medium (128KiB): a typical multi-sector request
//   - large (1MiB): the biggest requests worth pooling
//
// Buffers above the large tier are allocated directly and never pooled, so
// an occasional huge request does not pin memory.
//
// All operations are safe for concurrent use.
package bufpool

import "sync"

// Tier sizes for the default pool.
const (
	SmallSize  = 4 << 10
	MediumSize = 128 << 10
	LargeSize  = 1 << 20
)

// Pool manages byte-slice pools organized by size class.
type Pool struct {
	small, medium, large sync.Pool

	smallSize, mediumSize, largeSize int
}

// New creates a pool with the given tier sizes. Non-positive values fall back
// to the package defaults.
func New(smallSize, mediumSize, largeSize int) *Pool {
	if smallSize <= 0 {
		smallSize = SmallSize
	}
	if mediumSize <= 0 {
		mediumSize = MediumSize
	}
	if largeSize <= 0 {
		largeSize = LargeSize
	}

	p := &Pool{smallSize: smallSize, mediumSize: mediumSize, largeSize: largeSize}
	// sync.Pool stores *[]byte to avoid allocating a header per Put.
	p.small.New = func() any { b := make([]byte, p.smallSize); return &b }
	p.medium.New = func() any { b := make([]byte, p.mediumSize); return &b }
	p.large.New = func() any { b := make([]byte, p.largeSize); return &b }
	return p
}

// Get returns a slice of exactly the requested length, backed by a pooled
// buffer whose capacity may be larger. Callers must hand the slice back with
// Put once done; slices above the large tier bypass the pool.
func (p *Pool) Get(size int) []byte {
	var ptr *[]byte
	switch {
	case size <= p.smallSize:
		ptr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		ptr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		ptr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*ptr)[:size]
}

// Put returns a buffer obtained from Get. Buffers that do not match a tier
// capacity are left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.smallSize:
		p.small.Put(&full)
	case p.mediumSize:
		p.medium.Put(&full)
	case p.largeSize:
		p.large.Put(&full)
	}
}

// =============================================================================
// Global Pool
// =============================================================================

var globalPool = New(0, 0, 0)

// Get returns a slice of the requested length from the shared pool.
func Get(size int) []byte { return globalPool.Get(size) }

// Put returns a slice obtained from Get to the shared pool.
func Put(buf []byte) { globalPool.Put(buf) }

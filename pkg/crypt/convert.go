package crypt

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/blockdev"
	"github.com/cryptblk/cryptblk/pkg/bufpool"
)

// ioContext is the per-request transient state: the caller's request, the
// buffers the transforms work over, the single task slot, and the embedded
// convert context. Created when a request enters the device, torn down after
// completion is delivered.
type ioContext struct {
	dev  *Device
	orig *blockdev.Request
	op   blockdev.Op

	sector uint64 // first data unit index within the device
	units  int

	// buf is the transform destination. Writes encrypt into a pooled clone
	// so the caller's buffer is never modified; reads decrypt the caller's
	// buffer in place after the ciphertext lands in it.
	buf  []byte
	ivs  []byte // packed per-unit IVs, nil when the transform derives none
	tags []byte // packed per-unit integrity tags, nil without integrity

	// lane is assigned round-robin at submission and selects the cipher
	// handle, the deferred lane, and with same_cpu_crypt the pinned worker.
	lane int

	// execCC is the capability token of the context the conversion driver
	// runs in, recorded at dispatch. Completion paths that need to call
	// collaborators reuse it.
	execCC blockdev.CallerContext

	start time.Time
	state atomic.Int32
	task  task
	cc    convertContext
}

// convertContext tracks one request's conversion: the unit cursor and the
// atomic pending count. The count starts at the number of data units and
// every unit decrements it exactly once, whether it completed synchronously,
// asynchronously, with an error, or was never issued because an earlier unit
// aborted the request. The single transition to zero fires the gate.
type convertContext struct {
	io      *ioContext
	next    int // next unit index to issue, only touched by the driver
	pending atomic.Int64
	aborted atomic.Bool

	errMu sync.Mutex
	err   error
}

// fail records the first failure and stops the driver from issuing further
// units.
func (cc *convertContext) fail(err error) {
	cc.aborted.Store(true)
	cc.errMu.Lock()
	if cc.err == nil {
		cc.err = err
	}
	cc.errMu.Unlock()
}

func (cc *convertContext) firstErr() error {
	cc.errMu.Lock()
	defer cc.errMu.Unlock()
	return cc.err
}

// complete retires n units. The caller that drives pending to zero runs the
// gate on its own stack.
func (cc *convertContext) complete(n int) {
	if cc.pending.Add(-int64(n)) == 0 {
		cc.io.gate()
	}
}

// unitDone is the async completion callback handed to the transform provider.
// Providers invoke it exactly once per pending request, from a context that
// may block, possibly recursively from inside Transform.
func (cc *convertContext) unitDone(err error) {
	if err != nil {
		cc.fail(classify(err))
	}
	cc.complete(1)
}

// classify folds provider errors into the completion taxonomy, leaving
// integrity failures distinguishable from everything else.
func classify(err error) error {
	if errors.Is(err, ErrIntegrity) || errors.Is(err, ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}

// ============================================================================
// Conversion driver
// ============================================================================

// execute runs the work the task slot was armed for.
func (io *ioContext) execute() {
	switch io.op {
	case blockdev.OpRead, blockdev.OpWrite:
		io.runConvert()
	case blockdev.OpFlush:
		io.runFlush()
	}
}

// runConvert walks the request unit by unit: derive the IV, build the
// transform request, invoke the pool. Synchronous completions retire the unit
// immediately; asynchronous ones retire it from the provider callback. The
// driver yields between units so one large request cannot monopolize a
// worker, except under force_inline where the whole point is staying on the
// current context. A failed unit aborts the rest of the request; units never
// issued are retired in one bulk decrement so the pending count still reaches
// zero exactly once.
func (io *ioContext) runConvert() {
	cc := &io.cc
	dev := io.dev
	forced := dev.flags.Has(FlagForceInline)

	dir := Encrypt
	if io.op == blockdev.OpRead {
		dir = Decrypt
	}

	// Tag keys are logical unit indices: one key per data unit, regardless
	// of how the IV domain scales or shifts unit numbers.
	if dir == Decrypt && io.tags != nil {
		err := dev.tagStore.LoadTags(context.Background(), io.sector, io.units, io.tags)
		if err != nil {
			cc.fail(fmt.Errorf("%w: load tags: %w", ErrProvider, err))
			cc.complete(io.units)
			return
		}
	}

	// Forced inline omits the callback so the provider must finish before
	// Transform returns, and disallows backlog so an overloaded provider
	// fails fast instead of blocking.
	var done func(error)
	if !forced {
		done = cc.unitDone
	}

	issued := 0
	for cc.next < io.units {
		if cc.aborted.Load() {
			break
		}
		k := cc.next
		cc.next++

		req := &Request{
			Dir:          dir,
			Unit:         io.unitNumber(k),
			IV:           io.unitIV(k),
			Src:          io.unitSrc(k),
			Dst:          io.unitDst(k),
			Tag:          io.unitTag(k),
			AllowBacklog: !forced,
			OnDone:       done,
		}
		if req.IV != nil {
			dev.ivgen.Derive(req.IV, req.Unit)
		}

		err := dev.pool.Transform(io.lane, req)
		issued++
		switch {
		case err == nil:
			cc.complete(1)
		case errors.Is(err, ErrPending):
			// The callback owns this unit's decrement.
		default:
			cc.fail(classify(err))
			cc.complete(1)
		}

		if !forced && cc.next < io.units {
			runtime.Gosched()
		}
	}

	if rem := io.units - issued; rem > 0 {
		cc.complete(rem)
	}
}

// ============================================================================
// Completion & submission gate
// ============================================================================

// gate runs exactly once per request, on the stack that retired the last
// pending unit. Reads complete back to the caller, their plaintext already
// in place. Writes persist integrity tags and submit the encrypted clone:
// directly when force_inline or submit_from_crypt_cpus asks for the shortest
// path, through the sorted writer otherwise.
func (io *ioContext) gate() {
	io.setState(stateCompleting)
	err := io.cc.firstErr()

	if io.op == blockdev.OpRead || err != nil {
		io.finish(io.execCC, err)
		return
	}

	if io.tags != nil {
		serr := io.dev.tagStore.SaveTags(context.Background(), io.sector, io.units, io.tags)
		if serr != nil {
			io.finish(io.execCC, fmt.Errorf("%w: save tags: %w", ErrProvider, serr))
			return
		}
	}

	if io.dev.flags.Has(FlagForceInline) || io.dev.flags.Has(FlagNoOffload) {
		io.submitWrite()
		return
	}
	io.dev.writer.enqueue(io)
}

// submitWrite sends the encrypted clone to the underlying device.
func (io *ioContext) submitWrite() {
	dev := io.dev
	under := &blockdev.Request{
		Op:     blockdev.OpWrite,
		Sector: dev.mapSector(io.sector),
		Data:   io.buf,
		OnComplete: func(cc blockdev.CallerContext, err error) {
			io.finish(cc, err)
		},
	}
	dev.under.Submit(under, io.execCC)
}

// runFlush makes integrity tags durable, then forwards the flush.
func (io *ioContext) runFlush() {
	if io.dev.tagStore != nil {
		if err := io.dev.tagStore.Flush(context.Background()); err != nil {
			io.finish(io.execCC, fmt.Errorf("%w: flush tags: %w", ErrProvider, err))
			return
		}
	}
	io.forward()
}

// forward passes a non-payload request through to the underlying device with
// remapped geometry.
func (io *ioContext) forward() {
	dev := io.dev
	under := &blockdev.Request{
		Op: io.op,
		OnComplete: func(cc blockdev.CallerContext, err error) {
			io.finish(cc, err)
		},
	}
	if io.op == blockdev.OpTrim {
		under.Sector = dev.mapSector(io.orig.Sector)
		under.Length = io.orig.Length * dev.ratio
	}
	dev.under.Submit(under, io.execCC)
}

// finish delivers completion to the caller exactly once and releases the
// request's resources. cc is the capability token of the delivering context.
func (io *ioContext) finish(cc blockdev.CallerContext, err error) {
	io.setState(stateDone)
	dev := io.dev

	if dev.metrics != nil {
		dev.metrics.RecordRequest(dev.name, io.op.String(), len(io.orig.Data), time.Since(io.start), CompletionStatus(err))
	}
	if err != nil {
		logger.Error("Request failed",
			logger.KeyDevice, dev.name,
			logger.KeyOp, io.op.String(),
			logger.KeySector, io.orig.Sector,
			logger.KeyUnits, io.units,
			logger.KeyError, err)
	}

	if io.op == blockdev.OpWrite && io.buf != nil {
		bufpool.Put(io.buf)
	}
	if io.ivs != nil {
		bufpool.Put(io.ivs)
	}
	if io.tags != nil {
		bufpool.Put(io.tags)
	}

	io.orig.Complete(cc, err)
	dev.wg.Done()
}

// ============================================================================
// Unit accessors
// ============================================================================

// unitNumber maps a unit index to its IV-domain number.
func (io *ioContext) unitNumber(k int) uint64 {
	dev := io.dev
	return UnitNumber(io.sector, k, dev.sectorSize, dev.flags.Has(FlagLargeSectorIV), dev.ivOffset)
}

func (io *ioContext) unitSrc(k int) []byte {
	off := k * io.dev.sectorSize
	if io.op == blockdev.OpWrite {
		return io.orig.Data[off : off+io.dev.sectorSize]
	}
	return io.buf[off : off+io.dev.sectorSize]
}

func (io *ioContext) unitDst(k int) []byte {
	off := k * io.dev.sectorSize
	return io.buf[off : off+io.dev.sectorSize]
}

func (io *ioContext) unitIV(k int) []byte {
	if io.ivs == nil {
		return nil
	}
	n := io.dev.pool.IVSize()
	return io.ivs[k*n : (k+1)*n]
}

func (io *ioContext) unitTag(k int) []byte {
	if io.tags == nil {
		return nil
	}
	n := io.dev.pool.TagSize()
	return io.tags[k*n : (k+1)*n]
}

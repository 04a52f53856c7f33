// Package crypt implements transparent block-device encryption. A Device
// wraps an underlying blockdev.Device: writes are encrypted unit by unit
// before submission, reads are decrypted after the ciphertext arrives, with
// every data unit transformed under an IV derived from its logical position.
//
// The interesting part is not the ciphers but the dispatch policy: choosing,
// per request, which execution context runs the transforms. The default path
// hands conversion to a workqueue sized like the cipher pool. force_inline
// keeps it on the submitting goroutine, bouncing to a deferred lane only when
// the submitter holds a non-blockable capability token. same_cpu_crypt pins
// queued work to the request's assigned lane, and submit_from_crypt_cpus
// skips the sorted writer on the way down.
package crypt

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/blockdev"
	"github.com/cryptblk/cryptblk/pkg/bufpool"
	"github.com/cryptblk/cryptblk/pkg/metrics"
)

// DefaultStopTimeout bounds how long Close waits for the executors to drain
// after in-flight I/O has completed.
const DefaultStopTimeout = 30 * time.Second

// Config describes one encrypted device. Flags and features are fixed at
// construction; nothing here may change while the device is active.
type Config struct {
	// Name identifies the device in logs, metrics and status output.
	Name string

	// Cipher names the transform, see ValidCipher. Ignored when Pool is set.
	Cipher string

	// Key is the cipher key. Also salts essiv IV derivation.
	Key []byte

	// IVMode selects the IV deriver. Empty means plain64. Ignored by
	// transforms that tweak directly by unit number, except that essiv is
	// rejected for those since its whole point is a keyed IV.
	IVMode string

	// Flags is the dispatch policy bitset.
	Flags Flags

	// Features carries the valued feature arguments: data unit size and
	// integrity tag configuration.
	Features FeatureOptions

	// StartSector offsets the mapping, in underlying device sectors.
	StartSector uint64

	// Sectors caps the logical capacity in data units. Zero means everything
	// the underlying device provides past StartSector.
	Sectors uint64

	// IVOffset shifts the IV domain, for volumes whose IV numbering does not
	// start at zero.
	IVOffset uint64

	// Under is the device ciphertext is stored on. The crypt device does not
	// own it: Close drains but leaves Under open.
	Under blockdev.Device

	// Tags persists per-unit authentication tags. Required exactly when
	// Features.TagSize is non-zero.
	Tags TagStore

	// Workers sizes the cipher pool, the workqueue and the deferred lanes.
	// Non-positive means GOMAXPROCS. Ignored when Pool is set, which brings
	// its own lane count.
	Workers int

	// Pool overrides the built-in cipher transforms. Tests use this to
	// inject asynchronous or failing providers.
	Pool *Pool

	// Metrics receives per-request observations. Nil disables collection.
	Metrics metrics.CryptMetrics

	// StopTimeout bounds executor drain during Close. Zero means
	// DefaultStopTimeout.
	StopTimeout time.Duration
}

// Device is the encrypted view over an underlying block device. It
// implements blockdev.Device, so it stacks like any other layer.
type Device struct {
	name        string
	under       blockdev.Device
	pool        *Pool
	ivgen       IVDeriver
	tagStore    TagStore
	flags       Flags
	feats       FeatureOptions
	cipher      string
	ivMode      string
	sectorSize  int
	ratio       uint64 // underlying sectors per data unit
	startSector uint64
	sectors     uint64
	ivOffset    uint64

	queue    *workqueue
	deferred *deferredLanes
	writer   *sortedWriter
	metrics  metrics.CryptMetrics

	stopTimeout time.Duration

	nextLane     atomic.Uint32
	statInline   atomic.Uint64
	statWorker   atomic.Uint64
	statDeferred atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup // in-flight requests
}

var _ blockdev.Device = (*Device)(nil)

// New validates the configuration and activates the device. Construction is
// the only place configuration errors surface; once New returns, data-path
// failures are reported per request and never tear the device down.
func New(cfg Config) (*Device, error) {
	if cfg.Under == nil {
		return nil, fmt.Errorf("crypt: underlying device is required")
	}

	pool := cfg.Pool
	if pool == nil {
		var err error
		pool, err = NewPool(cfg.Cipher, cfg.Key, cfg.Workers)
		if err != nil {
			return nil, fmt.Errorf("crypt: %w", err)
		}
	}
	lanes := pool.Lanes()

	feats := cfg.Features
	if feats.SectorSize == 0 {
		feats.SectorSize = DefaultSectorSize
	}
	if feats.SectorSize < DefaultSectorSize || feats.SectorSize > MaxSectorSize ||
		feats.SectorSize&(feats.SectorSize-1) != 0 {
		return nil, fmt.Errorf("crypt: invalid sector size %d: must be a power of two in [%d, %d]",
			feats.SectorSize, DefaultSectorSize, MaxSectorSize)
	}

	uss := cfg.Under.SectorSize()
	if feats.SectorSize%uss != 0 {
		return nil, fmt.Errorf("crypt: sector size %d is not a multiple of underlying sector size %d",
			feats.SectorSize, uss)
	}
	ratio := uint64(feats.SectorSize / uss)

	avail := cfg.Under.Sectors()
	if cfg.StartSector > avail {
		return nil, fmt.Errorf("crypt: start sector %d beyond underlying device end %d", cfg.StartSector, avail)
	}
	logical := (avail - cfg.StartSector) / ratio
	sectors := cfg.Sectors
	if sectors == 0 {
		sectors = logical
	}
	if sectors > logical {
		return nil, fmt.Errorf("crypt: %d sectors requested, underlying device provides %d", sectors, logical)
	}
	if sectors == 0 {
		return nil, fmt.Errorf("crypt: device has no capacity")
	}

	ivMode := cfg.IVMode
	if ivMode == "" {
		ivMode = IVPlain64
	}
	if !ValidIVMode(ivMode) {
		return nil, fmt.Errorf("crypt: unsupported iv mode %q", ivMode)
	}

	var ivgen IVDeriver
	if n := pool.IVSize(); n > 0 {
		var err error
		ivgen, err = NewIVDeriver(ivMode, cfg.Key, n)
		if err != nil {
			return nil, fmt.Errorf("crypt: %w", err)
		}
	} else if ivMode == IVESSIV {
		return nil, fmt.Errorf("crypt: iv mode %s requires a transform that consumes a derived IV", IVESSIV)
	}

	switch {
	case feats.TagSize > 0 && pool.TagSize() == 0:
		return nil, fmt.Errorf("crypt: integrity tags configured but the cipher produces none")
	case feats.TagSize > 0 && pool.TagSize() != feats.TagSize:
		return nil, fmt.Errorf("crypt: integrity tag size %d does not match cipher tag size %d",
			feats.TagSize, pool.TagSize())
	case feats.TagSize == 0 && pool.TagSize() > 0:
		return nil, fmt.Errorf("crypt: cipher produces %d-byte tags, integrity feature required", pool.TagSize())
	}
	if feats.TagSize > 0 {
		if cfg.Tags == nil {
			return nil, fmt.Errorf("crypt: integrity tags configured without a tag store")
		}
		if cfg.Flags.Has(FlagForceInline) {
			return nil, fmt.Errorf("crypt: %s is incompatible with %s tags", featForceInline, featIntegrity)
		}
		if feats.TagMode == "" {
			feats.TagMode = "aead"
		}
	}

	name := cfg.Name
	if name == "" {
		name = "crypt"
	}
	cipherName := cfg.Cipher
	if cipherName == "" {
		cipherName = "external"
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	d := &Device{
		name:        name,
		under:       cfg.Under,
		pool:        pool,
		ivgen:       ivgen,
		tagStore:    cfg.Tags,
		flags:       cfg.Flags,
		feats:       feats,
		cipher:      cipherName,
		ivMode:      ivMode,
		sectorSize:  feats.SectorSize,
		ratio:       ratio,
		startSector: cfg.StartSector,
		sectors:     sectors,
		ivOffset:    cfg.IVOffset,
		queue:       newWorkqueue(lanes),
		deferred:    newDeferredLanes(lanes),
		metrics:     cfg.Metrics,
		stopTimeout: stopTimeout,
	}
	d.writer = newSortedWriter(d)
	d.queue.start()
	d.deferred.start()
	d.writer.start()

	logger.Info("Crypt device active",
		logger.KeyDevice, d.name,
		logger.KeyCipher, d.cipher,
		logger.KeyIVMode, d.ivMode,
		logger.KeySectors, d.sectors,
		logger.KeySectorSize, d.sectorSize,
		logger.KeyWorkers, lanes)
	return d, nil
}

// SectorSize returns the data unit size in bytes.
func (d *Device) SectorSize() int { return d.sectorSize }

// Sectors returns the logical capacity in data units.
func (d *Device) Sectors() uint64 { return d.sectors }

// mapSector translates a logical data unit index to an underlying sector.
func (d *Device) mapSector(s uint64) uint64 {
	return d.startSector + s*d.ratio
}

// Submit accepts one request. Reads fetch ciphertext first and dispatch
// decryption from the underlying completion context, which is where a
// non-blockable token naturally shows up. Writes dispatch encryption
// immediately in the submitting context.
func (d *Device) Submit(req *blockdev.Request, cc blockdev.CallerContext) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		req.Complete(cc, ErrDeviceClosed)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	if err := blockdev.Validate(d, req); err != nil {
		d.wg.Done()
		req.Complete(cc, err)
		return
	}

	switch req.Op {
	case blockdev.OpRead:
		d.startRead(req, cc)
	case blockdev.OpWrite:
		d.startWrite(req, cc)
	case blockdev.OpFlush:
		d.startFlush(req, cc)
	case blockdev.OpTrim:
		d.startTrim(req, cc)
	}
}

func (d *Device) newIOContext(req *blockdev.Request) *ioContext {
	io := &ioContext{
		dev:    d,
		orig:   req,
		op:     req.Op,
		sector: req.Sector,
		units:  len(req.Data) / d.sectorSize,
		lane:   int(d.nextLane.Add(1)-1) % d.pool.Lanes(),
		start:  time.Now(),
	}
	io.task.io = io
	io.cc.io = io
	if io.units > 0 {
		io.cc.pending.Store(int64(io.units))
		if n := d.pool.IVSize(); n > 0 {
			io.ivs = bufpool.Get(io.units * n)
		}
		if n := d.pool.TagSize(); n > 0 {
			io.tags = bufpool.Get(io.units * n)
		}
	}
	return io
}

func (d *Device) startRead(req *blockdev.Request, cc blockdev.CallerContext) {
	io := d.newIOContext(req)
	io.buf = req.Data

	under := &blockdev.Request{
		Op:     blockdev.OpRead,
		Sector: d.mapSector(io.sector),
		Data:   req.Data,
		OnComplete: func(ucc blockdev.CallerContext, err error) {
			if err != nil {
				io.finish(ucc, err)
				return
			}
			io.dispatch(ucc)
		},
	}
	d.under.Submit(under, cc)
}

func (d *Device) startWrite(req *blockdev.Request, cc blockdev.CallerContext) {
	io := d.newIOContext(req)
	io.buf = bufpool.Get(len(req.Data))
	io.dispatch(cc)
}

func (d *Device) startFlush(req *blockdev.Request, cc blockdev.CallerContext) {
	io := d.newIOContext(req)
	if d.tagStore == nil {
		io.execCC = cc
		io.forward()
		return
	}
	// Tag store flushes may block, so ride the workqueue.
	io.execCC = blockdev.Blockable()
	io.task.arm(taskWorker)
	d.queue.enqueue(&io.task)
}

func (d *Device) startTrim(req *blockdev.Request, cc blockdev.CallerContext) {
	io := d.newIOContext(req)
	if !d.flags.Has(FlagAllowDiscards) {
		io.finish(cc, blockdev.ErrNotSupported)
		return
	}
	io.execCC = cc
	io.forward()
}

// Close drains in-flight I/O, then stops the executors. The underlying
// device stays open; stacking callers own its lifecycle.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()

	d.queue.stop(d.stopTimeout)
	d.writer.stop(d.stopTimeout)
	d.deferred.stop(d.stopTimeout)

	logger.Info("Crypt device closed", logger.KeyDevice, d.name)
	return nil
}

// ============================================================================
// Introspection
// ============================================================================

// DeviceStatus is the stable status report for one device. Feature args keep
// the fixed order consumers parse: same_cpu_crypt, submit_from_crypt_cpus,
// force_inline, then the remaining features.
type DeviceStatus struct {
	Name        string
	Cipher      string
	IVMode      string
	Sectors     uint64
	SectorSize  int
	FeatureArgs []string
}

// String renders the status line: cipher, IV mode, geometry, then the
// feature argument count and the arguments themselves.
func (s DeviceStatus) String() string {
	out := fmt.Sprintf("%s %s %d %d %d", s.Cipher, s.IVMode, s.Sectors, s.SectorSize, len(s.FeatureArgs))
	if len(s.FeatureArgs) > 0 {
		out += " " + strings.Join(s.FeatureArgs, " ")
	}
	return out
}

// Status reports the device's active configuration.
func (d *Device) Status() DeviceStatus {
	return DeviceStatus{
		Name:        d.name,
		Cipher:      d.cipher,
		IVMode:      d.ivMode,
		Sectors:     d.sectors,
		SectorSize:  d.sectorSize,
		FeatureArgs: featureArgs(d.flags, d.feats),
	}
}

// Stats is a point-in-time snapshot of dispatch activity.
type Stats struct {
	// InlineRuns counts conversions executed on the submitting goroutine.
	InlineRuns uint64

	// WorkerTasks counts conversions handed to the workqueue.
	WorkerTasks uint64

	// DeferredTasks counts conversions bounced to a deferred lane.
	DeferredTasks uint64

	// QueuedTasks is the current workqueue backlog.
	QueuedTasks int

	// QueuedWrites is the current sorted writer backlog.
	QueuedWrites int

	// QueuedDeferred is the current deferred lane backlog.
	QueuedDeferred int
}

// Stats snapshots dispatch counters and queue depths.
func (d *Device) Stats() Stats {
	return Stats{
		InlineRuns:     d.statInline.Load(),
		WorkerTasks:    d.statWorker.Load(),
		DeferredTasks:  d.statDeferred.Load(),
		QueuedTasks:    d.queue.pending(),
		QueuedWrites:   d.writer.pending(),
		QueuedDeferred: d.deferred.pending(),
	}
}

// Package memdev provides a RAM-backed block device.
//
// It exists for tests, benchmarks, and volatile scratch volumes. In the
// default mode requests execute and complete on the submitting goroutine,
// passing the submitter's context token straight through to the callback. In
// async mode completions are delivered from dedicated goroutines with a
// non-blockable token, which makes memdev a faithful stand-in for hardware
// whose completions arrive in interrupt context.
package memdev

import (
	"fmt"
	"sync"

	"github.com/cryptblk/cryptblk/pkg/blockdev"
)

const (
	// DefaultSectorSize is used when Config.SectorSize is zero.
	DefaultSectorSize = 512

	// DefaultWorkers is the async-mode completion goroutine count when
	// Config.Workers is zero.
	DefaultWorkers = 2
)

// Config controls device geometry and completion delivery.
type Config struct {
	// SectorSize in bytes. Defaults to DefaultSectorSize.
	SectorSize int

	// Sectors is the device capacity. Required.
	Sectors uint64

	// Async switches completion delivery to dedicated goroutines carrying a
	// non-blockable token. When false, requests complete inline on the
	// submitting goroutine.
	Async bool

	// Workers is the number of completion goroutines in async mode.
	Workers int
}

// Device is an in-memory block device.
type Device struct {
	sectorSize int
	sectors    uint64

	mu   sync.RWMutex
	data []byte

	async bool

	qmu    sync.Mutex
	queue  []*blockdev.Request
	wake   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New allocates the backing memory and, in async mode, starts the completion
// goroutines.
func New(cfg Config) (*Device, error) {
	if cfg.SectorSize <= 0 {
		cfg.SectorSize = DefaultSectorSize
	}
	if cfg.Sectors == 0 {
		return nil, fmt.Errorf("memdev: sectors must be positive")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	d := &Device{
		sectorSize: cfg.SectorSize,
		sectors:    cfg.Sectors,
		data:       make([]byte, uint64(cfg.SectorSize)*cfg.Sectors),
		async:      cfg.Async,
		wake:       make(chan struct{}, 1),
	}
	if d.async {
		for i := 0; i < cfg.Workers; i++ {
			d.wg.Add(1)
			go d.completionLoop()
		}
	}
	return d, nil
}

// SectorSize returns the configured sector size in bytes.
func (d *Device) SectorSize() int { return d.sectorSize }

// Sectors returns the device capacity in sectors.
func (d *Device) Sectors() uint64 { return d.sectors }

// Submit executes or enqueues one request. In async mode the enqueue itself
// never blocks, so non-blockable submitters are safe.
func (d *Device) Submit(req *blockdev.Request, cc blockdev.CallerContext) {
	if err := blockdev.Validate(d, req); err != nil {
		req.Complete(cc, err)
		return
	}

	if !d.async {
		req.Complete(cc, d.execute(req))
		return
	}

	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		req.Complete(cc, blockdev.ErrClosed)
		return
	}
	d.queue = append(d.queue, req)
	// Signal while holding qmu: Close marks closed under the same lock before
	// closing wake, so the send can never race the close.
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.qmu.Unlock()
}

// Close stops accepting requests. In async mode it waits for the completion
// goroutines to drain the queue first.
func (d *Device) Close() error {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return nil
	}
	d.closed = true
	d.qmu.Unlock()

	if d.async {
		close(d.wake)
		d.wg.Wait()
	}
	return nil
}

func (d *Device) completionLoop() {
	defer d.wg.Done()
	for {
		req := d.pop()
		if req != nil {
			err := d.execute(req)
			req.Complete(blockdev.NonBlockable(), err)
			continue
		}
		if _, ok := <-d.wake; !ok {
			// Drain whatever raced in before close.
			for req := d.pop(); req != nil; req = d.pop() {
				req.Complete(blockdev.NonBlockable(), d.execute(req))
			}
			return
		}
	}
}

func (d *Device) pop() *blockdev.Request {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	req := d.queue[0]
	d.queue = d.queue[1:]
	return req
}

func (d *Device) execute(req *blockdev.Request) error {
	off := req.Sector * uint64(d.sectorSize)
	switch req.Op {
	case blockdev.OpRead:
		d.mu.RLock()
		copy(req.Data, d.data[off:off+uint64(len(req.Data))])
		d.mu.RUnlock()
	case blockdev.OpWrite:
		d.mu.Lock()
		copy(d.data[off:off+uint64(len(req.Data))], req.Data)
		d.mu.Unlock()
	case blockdev.OpTrim:
		end := off + req.Length*uint64(d.sectorSize)
		d.mu.Lock()
		for i := off; i < end; i++ {
			d.data[i] = 0
		}
		d.mu.Unlock()
	case blockdev.OpFlush:
		// Memory is always "stable".
	}
	return nil
}

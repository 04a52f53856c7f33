// Package filedev provides a block device backed by a regular file.
//
// Reads and writes use positional I/O (pread/pwrite) so concurrent requests
// never contend on a shared file offset. Flush maps to the cheapest durable
// sync the platform offers and trim punches holes where the filesystem
// supports it, falling back to writing zeros where it does not. Completion
// delivery mirrors memdev: inline on the submitting goroutine by default, or
// from dedicated goroutines carrying a non-blockable token in async mode.
package filedev

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/blockdev"
)

// errNoPunch is returned by punchHole on platforms without hole punching so
// trim falls back to writing zeros.
var errNoPunch = errors.New("hole punching not available")

const (
	// DefaultSectorSize is used when Config.SectorSize is zero.
	DefaultSectorSize = 512

	// DefaultWorkers is the async-mode completion goroutine count when
	// Config.Workers is zero.
	DefaultWorkers = 2

	// DefaultFileMode is applied to newly created backing files.
	DefaultFileMode = os.FileMode(0600)

	// zeroChunk bounds the buffer used when a trim falls back to writing
	// zeros on filesystems without hole punching.
	zeroChunk = 1 << 20
)

// Config controls the backing file and completion delivery.
type Config struct {
	// Path of the backing file. Required.
	Path string

	// SectorSize in bytes. Defaults to DefaultSectorSize.
	SectorSize int

	// Sectors is the device capacity. When zero the capacity is derived
	// from the existing file size, which must be a whole number of sectors.
	// When positive and the file is smaller, the file is extended sparsely;
	// a larger file is left untouched and only the first Sectors sectors
	// are exposed.
	Sectors uint64

	// Create the backing file if it does not exist. Requires Sectors.
	Create bool

	// FileMode for a newly created file. Defaults to DefaultFileMode.
	FileMode os.FileMode

	// Async switches completion delivery to dedicated goroutines carrying a
	// non-blockable token. When false, requests complete inline on the
	// submitting goroutine.
	Async bool

	// Workers is the number of completion goroutines in async mode.
	Workers int
}

// Device is a file-backed block device.
type Device struct {
	file       *os.File
	fd         int
	sectorSize int
	sectors    uint64

	async bool

	qmu    sync.Mutex
	queue  []*blockdev.Request
	wake   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New opens or creates the backing file, settles the device geometry, and in
// async mode starts the completion goroutines.
func New(cfg Config) (*Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("filedev: path is required")
	}
	if cfg.SectorSize <= 0 {
		cfg.SectorSize = DefaultSectorSize
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = DefaultFileMode
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Create && cfg.Sectors == 0 {
		return nil, fmt.Errorf("filedev: sectors required to create %s", cfg.Path)
	}
	if cfg.Sectors > math.MaxInt64/uint64(cfg.SectorSize) {
		return nil, fmt.Errorf("filedev: %d sectors of %d bytes exceed addressable file size", cfg.Sectors, cfg.SectorSize)
	}

	flags := os.O_RDWR
	if cfg.Create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(cfg.Path, flags, cfg.FileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file: %w", err)
	}

	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat backing file: %w", err)
	}
	if st.Mode().IsDir() {
		file.Close()
		return nil, fmt.Errorf("filedev: %s is a directory", cfg.Path)
	}

	sectors := cfg.Sectors
	if sectors == 0 {
		size := st.Size()
		if size == 0 {
			file.Close()
			return nil, fmt.Errorf("filedev: %s is empty and no sector count was given", cfg.Path)
		}
		if size%int64(cfg.SectorSize) != 0 {
			file.Close()
			return nil, fmt.Errorf("filedev: file size %d is not a multiple of sector size %d", size, cfg.SectorSize)
		}
		sectors = uint64(size) / uint64(cfg.SectorSize)
	} else if want := int64(sectors) * int64(cfg.SectorSize); st.Size() < want {
		// Sparse extension: unwritten sectors read as zeros without
		// consuming space.
		if err := file.Truncate(want); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to extend backing file: %w", err)
		}
	}

	d := &Device{
		file:       file,
		fd:         int(file.Fd()),
		sectorSize: cfg.SectorSize,
		sectors:    sectors,
		async:      cfg.Async,
		wake:       make(chan struct{}, 1),
	}
	if d.async {
		for i := 0; i < cfg.Workers; i++ {
			d.wg.Add(1)
			go d.completionLoop()
		}
	}

	logger.Info("opened file-backed device",
		logger.KeyPath, cfg.Path,
		logger.KeySectors, sectors,
		logger.KeySectorSize, cfg.SectorSize)
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

	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		req.Complete(cc, blockdev.ErrClosed)
		return
	}

	if !d.async {
		// Hold the in-flight count across the execute so Close cannot
		// invalidate the descriptor underneath us.
		d.wg.Add(1)
		d.qmu.Unlock()
		err := d.execute(req)
		d.wg.Done()
		req.Complete(cc, err)
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

// Close stops accepting requests, waits for in-flight I/O to drain, and
// closes the backing file.
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
	}
	d.wg.Wait()
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("failed to close backing file: %w", err)
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
	off := int64(req.Sector) * int64(d.sectorSize)
	switch req.Op {
	case blockdev.OpRead:
		return d.pread(req.Data, off)
	case blockdev.OpWrite:
		return d.pwrite(req.Data, off)
	case blockdev.OpFlush:
		return d.flush()
	case blockdev.OpTrim:
		return d.trim(off, int64(req.Length)*int64(d.sectorSize))
	}
	return blockdev.ErrNotSupported
}

func (d *Device) pread(buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pread(d.fd, buf, off)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read at offset %d: %w", off, err)
		}
		if n == 0 {
			// The file shrank underneath us; geometry said this range exists.
			return fmt.Errorf("failed to read at offset %d: %w", off, io.ErrUnexpectedEOF)
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func (d *Device) pwrite(buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pwrite(d.fd, buf, off)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to write at offset %d: %w", off, err)
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

// trim deallocates the byte range. Reads of trimmed sectors must return
// zeros, so when the filesystem cannot punch holes the range is zeroed by
// writing instead.
func (d *Device) trim(off, length int64) error {
	err := d.punchHole(off, length)
	if err == nil {
		return nil
	}
	// EOPNOTSUPP and EINVAL both mean the filesystem cannot punch holes in
	// this file; zero the range by writing instead.
	if err != errNoPunch && err != unix.EOPNOTSUPP && err != unix.EINVAL {
		return fmt.Errorf("failed to trim at offset %d: %w", off, err)
	}

	zeros := make([]byte, min64(length, zeroChunk))
	for length > 0 {
		n := min64(length, zeroChunk)
		if err := d.pwrite(zeros[:n], off); err != nil {
			return err
		}
		off += n
		length -= n
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

package crypt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cryptblk/cryptblk/pkg/blockdev"
)

// spyDevice records every submitted request and completes it immediately.
// completionCC controls the capability token completions are delivered with,
// so tests can simulate interrupt-side delivery.
type spyDevice struct {
	sectorSize int
	sectors    uint64

	completionCC blockdev.CallerContext
	failWith     error

	mu   sync.Mutex
	data map[uint64][]byte // sector -> one sector of bytes
	log  []spyOp
}

type spyOp struct {
	op     blockdev.Op
	sector uint64
	length uint64 // sectors, for trim
	bytes  int
}

func newSpyDevice(sectorSize int, sectors uint64, completionCC blockdev.CallerContext) *spyDevice {
	return &spyDevice{
		sectorSize:   sectorSize,
		sectors:      sectors,
		completionCC: completionCC,
		data:         make(map[uint64][]byte),
	}
}

func (s *spyDevice) SectorSize() int { return s.sectorSize }
func (s *spyDevice) Sectors() uint64 { return s.sectors }
func (s *spyDevice) Close() error    { return nil }

func (s *spyDevice) Submit(req *blockdev.Request, _ blockdev.CallerContext) {
	s.mu.Lock()
	s.log = append(s.log, spyOp{op: req.Op, sector: req.Sector, length: req.Length, bytes: len(req.Data)})
	err := s.failWith
	if err == nil {
		switch req.Op {
		case blockdev.OpWrite:
			for i := 0; i*s.sectorSize < len(req.Data); i++ {
				sec := make([]byte, s.sectorSize)
				copy(sec, req.Data[i*s.sectorSize:])
				s.data[req.Sector+uint64(i)] = sec
			}
		case blockdev.OpRead:
			for i := 0; i*s.sectorSize < len(req.Data); i++ {
				if sec, ok := s.data[req.Sector+uint64(i)]; ok {
					copy(req.Data[i*s.sectorSize:(i+1)*s.sectorSize], sec)
				} else {
					clear(req.Data[i*s.sectorSize : (i+1)*s.sectorSize])
				}
			}
		}
	}
	s.mu.Unlock()

	req.Complete(s.completionCC, err)
}

func (s *spyDevice) ops(op blockdev.Op) []spyOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []spyOp
	for _, e := range s.log {
		if e.op == op {
			out = append(out, e)
		}
	}
	return out
}

func (s *spyDevice) count(op blockdev.Op) int { return len(s.ops(op)) }

// recordingTransformer wraps another transformer and logs the unit numbers it
// was asked to process, in call order.
type recordingTransformer struct {
	inner Transformer

	mu    sync.Mutex
	units []uint64
}

func (r *recordingTransformer) IVSize() int  { return r.inner.IVSize() }
func (r *recordingTransformer) TagSize() int { return r.inner.TagSize() }

func (r *recordingTransformer) Transform(req *Request) error {
	r.mu.Lock()
	r.units = append(r.units, req.Unit)
	r.mu.Unlock()
	return r.inner.Transform(req)
}

func (r *recordingTransformer) seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.units...)
}

// failingTransformer fails the unit at the given call index and passes
// everything else through.
type failingTransformer struct {
	inner   Transformer
	failAt  int
	failErr error

	mu    sync.Mutex
	calls int
}

func (f *failingTransformer) IVSize() int  { return f.inner.IVSize() }
func (f *failingTransformer) TagSize() int { return f.inner.TagSize() }

func (f *failingTransformer) Transform(req *Request) error {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()
	if idx == f.failAt {
		return f.failErr
	}
	return f.inner.Transform(req)
}

// asyncTransformer runs the inner transform on a separate goroutine and
// reports completion through the callback, exercising the pending path. When
// no callback is attached it must complete synchronously, which is exactly
// the forced-inline provider contract.
type asyncTransformer struct {
	inner Transformer
	delay time.Duration
}

func (a *asyncTransformer) IVSize() int  { return a.inner.IVSize() }
func (a *asyncTransformer) TagSize() int { return a.inner.TagSize() }

func (a *asyncTransformer) Transform(req *Request) error {
	if req.OnDone == nil {
		return a.inner.Transform(req)
	}
	done := req.OnDone
	go func() {
		if a.delay > 0 {
			time.Sleep(a.delay)
		}
		done(a.inner.Transform(req))
	}()
	return ErrPending
}

// recursiveTransformer completes through the callback from inside Transform
// before returning ErrPending, the reentrant completion the provider contract
// allows.
type recursiveTransformer struct {
	inner Transformer
}

func (r *recursiveTransformer) IVSize() int  { return r.inner.IVSize() }
func (r *recursiveTransformer) TagSize() int { return r.inner.TagSize() }

func (r *recursiveTransformer) Transform(req *Request) error {
	if req.OnDone == nil {
		return r.inner.Transform(req)
	}
	req.OnDone(r.inner.Transform(req))
	return ErrPending
}

// memTagStore keeps tags in a map. Tests corrupt entries directly.
type memTagStore struct {
	tagSize int

	mu      sync.Mutex
	tags    map[uint64][]byte
	flushes int
}

func newMemTagStore(tagSize int) *memTagStore {
	return &memTagStore{tagSize: tagSize, tags: make(map[uint64][]byte)}
}

func (m *memTagStore) LoadTags(_ context.Context, unit uint64, n int, tags []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		dst := tags[i*m.tagSize : (i+1)*m.tagSize]
		if src, ok := m.tags[unit+uint64(i)]; ok {
			copy(dst, src)
		} else {
			clear(dst)
		}
	}
	return nil
}

func (m *memTagStore) SaveTags(_ context.Context, unit uint64, n int, tags []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		tag := make([]byte, m.tagSize)
		copy(tag, tags[i*m.tagSize:(i+1)*m.tagSize])
		m.tags[unit+uint64(i)] = tag
	}
	return nil
}

func (m *memTagStore) Flush(context.Context) error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

func (m *memTagStore) corrupt(unit uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag, ok := m.tags[unit]
	if !ok {
		return fmt.Errorf("no tag for unit %d", unit)
	}
	tag[0] ^= 0xff
	return nil
}

// completionRecorder collects completions for one request.
type completionRecorder struct {
	ch chan error
}

func newCompletionRecorder() *completionRecorder {
	// Buffered past any legal completion count so a double completion
	// surfaces as a count mismatch instead of a deadlock.
	return &completionRecorder{ch: make(chan error, 4)}
}

func (c *completionRecorder) callback(_ blockdev.CallerContext, err error) {
	c.ch <- err
}

func (c *completionRecorder) wait(timeout time.Duration) (error, error) {
	select {
	case err := <-c.ch:
		return err, nil
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for completion")
	}
}

// extra reports whether a second completion arrives within the window.
func (c *completionRecorder) extra(window time.Duration) bool {
	select {
	case <-c.ch:
		return true
	case <-time.After(window):
		return false
	}
}

func poolOf(t Transformer, lanes int) *Pool {
	p, err := NewPoolWith(lanes, func() (Transformer, error) { return t, nil })
	if err != nil {
		panic(err)
	}
	return p
}

package crypt

import (
	"sync"
	"time"

	"github.com/cryptblk/cryptblk/internal/logger"
)

// deferredLanes bounce forced-inline conversions out of non-blockable
// contexts. Each lane is a single goroutine draining a FIFO, so tasks queued
// on one lane run in submission order, one at a time, with no cooperative
// yield between units. A task lands here only when force_inline is set and
// the submitter cannot block.
type deferredLanes struct {
	lanes []deferredLane

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
}

type deferredLane struct {
	mu    sync.Mutex
	items []*task
	wake  chan struct{}
}

func newDeferredLanes(n int) *deferredLanes {
	d := &deferredLanes{
		lanes:     make([]deferredLane, n),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	for i := range d.lanes {
		d.lanes[i].wake = make(chan struct{}, 1)
	}
	return d
}

func (d *deferredLanes) start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	logger.Debug("Starting deferred lanes", logger.KeyLane, len(d.lanes))

	for i := range d.lanes {
		d.wg.Add(1)
		go d.run(i)
	}
	go func() {
		d.wg.Wait()
		close(d.stoppedCh)
	}()
}

func (d *deferredLanes) stop(timeout time.Duration) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(d.stopCh) })

	select {
	case <-d.stoppedCh:
		logger.Debug("Deferred lanes stopped")
	case <-time.After(timeout):
		logger.Warn("Deferred lane stop timed out", logger.KeyPending, d.pending())
	}
}

// enqueue pushes a task onto its lane. Never blocks.
func (d *deferredLanes) enqueue(t *task) {
	lane := &d.lanes[t.io.lane%len(d.lanes)]
	lane.mu.Lock()
	lane.items = append(lane.items, t)
	lane.mu.Unlock()

	select {
	case lane.wake <- struct{}{}:
	default:
	}
}

func (d *deferredLanes) pending() int {
	n := 0
	for i := range d.lanes {
		d.lanes[i].mu.Lock()
		n += len(d.lanes[i].items)
		d.lanes[i].mu.Unlock()
	}
	return n
}

func (d *deferredLanes) pop(i int) *task {
	lane := &d.lanes[i]
	lane.mu.Lock()
	defer lane.mu.Unlock()
	if len(lane.items) == 0 {
		return nil
	}
	t := lane.items[0]
	lane.items[0] = nil
	lane.items = lane.items[1:]
	return t
}

func (d *deferredLanes) run(i int) {
	defer d.wg.Done()

	for {
		if t := d.pop(i); t != nil {
			t.run()
			continue
		}

		select {
		case <-d.lanes[i].wake:
		case <-d.stopCh:
			for t := d.pop(i); t != nil; t = d.pop(i) {
				t.run()
			}
			return
		}
	}
}

package crypt

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cryptblk/cryptblk/internal/logger"
)

// sortedWriter submits encrypted writes to the underlying device from a
// dedicated goroutine, ordered by starting sector. Collecting writes from
// all lanes and replaying them in ascending order keeps the backing store
// from seeing the scrambled interleaving the workers produce.
//
// Writes bypass the sorter when submit_from_crypt_cpus or force_inline is
// set, in which case the completing context submits directly.
type sortedWriter struct {
	dev *Device

	mu  sync.Mutex
	h   writeHeap
	seq uint64

	wake      chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

type writeEntry struct {
	io  *ioContext
	seq uint64 // FIFO tiebreak for equal sectors
}

type writeHeap []writeEntry

func (h writeHeap) Len() int { return len(h) }
func (h writeHeap) Less(i, j int) bool {
	if h[i].io.sector != h[j].io.sector {
		return h[i].io.sector < h[j].io.sector
	}
	return h[i].seq < h[j].seq
}
func (h writeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *writeHeap) Push(x any) { *h = append(*h, x.(writeEntry)) }

func (h *writeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = writeEntry{}
	*h = old[:n-1]
	return e
}

func newSortedWriter(dev *Device) *sortedWriter {
	return &sortedWriter{
		dev:       dev,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *sortedWriter) start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

func (w *sortedWriter) stop(timeout time.Duration) {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})

	select {
	case <-w.stoppedCh:
	case <-time.After(timeout):
		logger.Warn("Sorted writer stop timed out", logger.KeyPending, w.pending())
	}
}

// enqueue hands a fully encrypted write to the sorter. Never blocks.
func (w *sortedWriter) enqueue(io *ioContext) {
	w.mu.Lock()
	w.seq++
	heap.Push(&w.h, writeEntry{io: io, seq: w.seq})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *sortedWriter) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.h.Len()
}

func (w *sortedWriter) pop() *ioContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&w.h).(writeEntry).io
}

func (w *sortedWriter) run() {
	defer close(w.stoppedCh)

	for {
		if io := w.pop(); io != nil {
			io.submitWrite()
			continue
		}

		select {
		case <-w.wake:
		case <-w.stopCh:
			for io := w.pop(); io != nil; io = w.pop() {
				io.submitWrite()
			}
			return
		}
	}
}

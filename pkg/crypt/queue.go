package crypt

import (
	"sync"
	"time"

	"github.com/cryptblk/cryptblk/internal/logger"
	"github.com/cryptblk/cryptblk/pkg/blockdev"
)

// workqueue runs conversion tasks on a fixed set of worker goroutines, the
// normal executor for every request that is not forced inline.
//
// Priority order (highest to lowest):
//  1. Lane-pinned tasks - same_cpu_crypt affinity, serviced by their worker
//  2. Reads - a caller is waiting for plaintext
//  3. Writes - encryption ahead of submission
//
// Enqueue pushes onto an unbounded list and never blocks, so it is safe from
// non-blockable submission and completion contexts. Workers check queues in
// priority order with a non-blocking pass before sleeping on their wake
// channel, so reads are always drained first without busy-waiting.
type workqueue struct {
	workers int

	lanes  []taskList // one per worker, for lane-pinned tasks
	reads  taskList
	writes taskList

	wake      []chan struct{} // cap 1 per worker
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// taskList is an unbounded FIFO of armed tasks.
type taskList struct {
	mu    sync.Mutex
	items []*task
}

func (l *taskList) push(t *task) {
	l.mu.Lock()
	l.items = append(l.items, t)
	l.mu.Unlock()
}

func (l *taskList) pop() *task {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	t := l.items[0]
	l.items[0] = nil
	l.items = l.items[1:]
	return t
}

func (l *taskList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func newWorkqueue(workers int) *workqueue {
	q := &workqueue{
		workers:   workers,
		lanes:     make([]taskList, workers),
		wake:      make([]chan struct{}, workers),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	for i := range q.wake {
		q.wake[i] = make(chan struct{}, 1)
	}
	return q
}

// start launches the workers. Idempotent.
func (q *workqueue) start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	logger.Debug("Starting crypt workqueue", logger.KeyWorkers, q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	go func() {
		q.wg.Wait()
		close(q.stoppedCh)
	}()
}

// stop shuts the workers down after they drain all queues. The device drains
// in-flight I/O before calling stop, so nothing enqueues concurrently.
func (q *workqueue) stop(timeout time.Duration) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	q.stopOnce.Do(func() { close(q.stopCh) })

	select {
	case <-q.stoppedCh:
		logger.Debug("Crypt workqueue stopped")
	case <-time.After(timeout):
		logger.Warn("Crypt workqueue stop timed out", logger.KeyPending, q.pending())
	}
}

// enqueue routes a task to its lane queue when pinned, otherwise to the
// global queue for its direction. Never blocks.
func (q *workqueue) enqueue(t *task) {
	io := t.io
	if io.dev.flags.Has(FlagSameCPU) {
		lane := io.lane % q.workers
		q.lanes[lane].push(t)
		q.signal(lane)
		return
	}

	if io.op == blockdev.OpRead {
		q.reads.push(t)
	} else {
		q.writes.push(t)
	}
	for i := range q.wake {
		q.signal(i)
	}
}

func (q *workqueue) signal(worker int) {
	select {
	case q.wake[worker] <- struct{}{}:
	default:
	}
}

// pending returns the total queued task count.
func (q *workqueue) pending() int {
	n := q.reads.len() + q.writes.len()
	for i := range q.lanes {
		n += q.lanes[i].len()
	}
	return n
}

// pick returns the next task for a worker in priority order, or nil.
func (q *workqueue) pick(worker int) *task {
	if t := q.lanes[worker].pop(); t != nil {
		return t
	}
	if t := q.reads.pop(); t != nil {
		return t
	}
	return q.writes.pop()
}

func (q *workqueue) worker(id int) {
	defer q.wg.Done()

	for {
		if t := q.pick(id); t != nil {
			t.run()
			continue
		}

		select {
		case <-q.wake[id]:
		case <-q.stopCh:
			// Drain whatever is left before exiting.
			for t := q.pick(id); t != nil; t = q.pick(id) {
				t.run()
			}
			return
		}
	}
}

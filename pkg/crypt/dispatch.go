package crypt

import "github.com/cryptblk/cryptblk/pkg/blockdev"

// dispatchState tracks where a request is in its lifecycle. The value is
// observational: transitions are driven by the dispatch decision and the
// pending count, never by inspecting the state.
type dispatchState int32

const (
	stateNew dispatchState = iota
	stateInlineRunning
	stateQueuedWorker
	stateQueuedDeferred
	stateCompleting
	stateDone
)

func (s dispatchState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateInlineRunning:
		return "inline_running"
	case stateQueuedWorker:
		return "queued_worker"
	case stateQueuedDeferred:
		return "queued_deferred"
	case stateCompleting:
		return "completing"
	case stateDone:
		return "done"
	default:
		return "invalid"
	}
}

func (io *ioContext) setState(s dispatchState) { io.state.Store(int32(s)) }
func (io *ioContext) dispatchState() dispatchState {
	return dispatchState(io.state.Load())
}

// Dispatch paths reported to metrics.
const (
	dispatchInline   = "inline"
	dispatchWorker   = "worker"
	dispatchDeferred = "deferred"
)

// ============================================================================
// Task slot
// ============================================================================

type taskKind uint8

const (
	taskNone taskKind = iota
	taskWorker
	taskDeferred
)

// task is the single deferred-work slot embedded in every I/O context. It is
// armed as either a workqueue task or a deferred-lane task, never both and
// never twice, so a request can sit on at most one queue at a time.
type task struct {
	io   *ioContext
	kind taskKind
}

func (t *task) arm(kind taskKind) {
	if t.kind != taskNone {
		panic("crypt: task slot armed twice")
	}
	t.kind = kind
}

func (t *task) run() {
	t.io.execute()
}

// ============================================================================
// Dispatch decision
// ============================================================================

// dispatch chooses the execution context for a request's conversion. It is
// evaluated exactly once per request, with the capability token of the
// context requesting crypto work:
//
//  1. force_inline and the caller may block: run the driver here, on the
//     calling goroutine, to completion.
//  2. force_inline and the caller must not block: bounce to a deferred lane,
//     the only consumer of that mechanism. The workqueue is never used, both
//     because force_inline forbids it and because enqueueing could not be
//     paired with the blocking work workers are allowed to do.
//  3. otherwise: arm the task slot for the workqueue. The driver runs later
//     on a worker, which is the only executor allowed to block on the
//     provider or the tag store.
func (io *ioContext) dispatch(caller blockdev.CallerContext) {
	dev := io.dev

	if dev.flags.Has(FlagForceInline) {
		if !caller.MayBlock() {
			io.execCC = blockdev.NonBlockable()
			io.task.arm(taskDeferred)
			io.setState(stateQueuedDeferred)
			dev.statDeferred.Add(1)
			if dev.metrics != nil {
				dev.metrics.RecordDispatch(dev.name, dispatchDeferred)
			}
			dev.deferred.enqueue(&io.task)
			return
		}

		io.execCC = caller
		io.setState(stateInlineRunning)
		dev.statInline.Add(1)
		if dev.metrics != nil {
			dev.metrics.RecordDispatch(dev.name, dispatchInline)
		}
		io.execute()
		return
	}

	io.execCC = blockdev.Blockable()
	io.task.arm(taskWorker)
	io.setState(stateQueuedWorker)
	dev.statWorker.Add(1)
	if dev.metrics != nil {
		dev.metrics.RecordDispatch(dev.name, dispatchWorker)
	}
	dev.queue.enqueue(&io.task)
}

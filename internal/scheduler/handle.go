package scheduler

import (
	"context"
	"strconv"
	"sync/atomic"
)

// Task is a unit of deferred work.
type Task func(ctx context.Context) error

// Kind identifies how a task was scheduled.
type Kind int

const (
	KindOnce Kind = iota
	KindRepeating
	KindAsync
	KindSync
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindRepeating:
		return "repeating"
	case KindAsync:
		return "async"
	case KindSync:
		return "sync"
	default:
		return "unknown"
	}
}

func (k Kind) defaultName(id uint64) string {
	prefix := map[Kind]string{
		KindOnce:      "task",
		KindRepeating: "timer",
		KindAsync:     "async",
		KindSync:      "sync",
	}[k]
	return prefix + "-" + strconv.FormatUint(id, 10)
}

const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateCancelled
)

// Handle is a cancellable reference to scheduled work.
//
// Firing and cancelling race through compare-and-swap on state: a Cancel that
// lands before the firing check wins and the task never runs; a Cancel that
// lands after it is a no-op for one-shot tasks.
type Handle struct {
	id    uint64
	name  string
	kind  Kind
	task  Task
	sched *Scheduler

	state      atomic.Int32
	executions atomic.Int64

	// Owned by the tick goroutine once the handle is queued.
	period   int64
	nextTick int64
	retried  bool

	// Set for async tasks only.
	cancelCtx context.CancelFunc
}

// ID returns the unique handle id.
func (h *Handle) ID() uint64 { return h.id }

// Name returns the task name.
func (h *Handle) Name() string { return h.name }

// Kind returns the scheduling kind.
func (h *Handle) Kind() Kind { return h.kind }

// Period returns the repeat period in ticks, zero for non-repeating tasks.
func (h *Handle) Period() int64 { return h.period }

// Executions returns how many times the task has run.
func (h *Handle) Executions() int64 { return h.executions.Load() }

// Cancelled reports whether the handle was cancelled.
func (h *Handle) Cancelled() bool { return h.state.Load() == stateCancelled }

// Done reports whether a non-repeating task has finished running.
func (h *Handle) Done() bool { return h.state.Load() == stateDone }

// Active reports whether the handle still counts toward the active set.
func (h *Handle) Active() bool {
	s := h.state.Load()
	return s == statePending || s == stateRunning
}

// Cancel stops future executions and returns true if this call cancelled
// the handle. It is idempotent. A one-shot or sync task that is already
// running or finished cannot be cancelled. Running async and repeating
// tasks are marked cancelled; async work also sees its context cancelled
// but is never interrupted forcibly.
func (h *Handle) Cancel() bool {
	for {
		s := h.state.Load()
		switch s {
		case stateDone, stateCancelled:
			return false
		case stateRunning:
			if h.kind == KindOnce || h.kind == KindSync {
				return false
			}
		}
		if h.state.CompareAndSwap(s, stateCancelled) {
			if h.cancelCtx != nil {
				h.cancelCtx()
			}
			if h.sched != nil {
				h.sched.forget(h)
			}
			return true
		}
	}
}

func (h *Handle) key() string {
	return strconv.FormatUint(h.id, 10)
}

// TaskOption customises a scheduled task.
type TaskOption func(*Handle)

// Named sets a human-readable task name used in logs.
func Named(name string) TaskOption {
	return func(h *Handle) {
		if name != "" {
			h.name = name
		}
	}
}

package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/semaphore"

	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

type tickThreadKey struct{}

// WithTickThread marks ctx as running on the tick goroutine. RunSync calls
// made with a marked context execute inline.
func WithTickThread(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if OnTickThread(ctx) {
		return ctx
	}
	return context.WithValue(ctx, tickThreadKey{}, true)
}

// OnTickThread reports whether ctx carries the tick goroutine mark.
func OnTickThread(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	marked, _ := ctx.Value(tickThreadKey{}).(bool)
	return marked
}

// Scheduler runs deferred work against a logical tick counter advanced by
// the host heartbeat. Tick must be called from a single goroutine at a time;
// every other method is safe for concurrent use.
type Scheduler struct {
	cfg Config

	current atomic.Int64
	nextID  atomic.Uint64
	debug   atomic.Bool
	closed  atomic.Bool
	// epoch advances on every CancelAll; a run that straddles one is not retried.
	epoch atomic.Uint64

	mu        sync.Mutex
	timed     []*Handle
	syncQueue []*Handle

	active cmap.ConcurrentMap[string, *Handle]

	asyncSem    *semaphore.Weighted
	asyncWG     sync.WaitGroup
	asyncCtx    context.Context
	asyncCancel context.CancelFunc

	executed atomic.Uint64
	faults   atomic.Uint64

	log     *logger.Logger
	metrics *telemetry.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Scheduler) { s.log = log.Component("scheduler") }
}

// WithMetrics records task counters and the current tick.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler at tick zero.
func New(cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:         cfg,
		active:      cmap.New[*Handle](),
		asyncSem:    semaphore.NewWeighted(cfg.AsyncWorkers),
		asyncCtx:    ctx,
		asyncCancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunLater schedules task to run once, delayTicks after the current tick.
// Delays below one are clamped to one.
func (s *Scheduler) RunLater(task Task, delayTicks int64, opts ...TaskOption) *Handle {
	if delayTicks < 1 {
		delayTicks = 1
	}
	h := s.newHandle(KindOnce, task, opts)
	h.nextTick = s.current.Load() + delayTicks
	s.enqueueTimed(h)
	return h
}

// RunTimer schedules task to repeat every periodTicks, first due
// initialDelayTicks after the current tick. An initial delay of zero makes
// the task due on the next heartbeat. Later runs are anchored to the first
// due tick rather than to when each run happened.
func (s *Scheduler) RunTimer(task Task, periodTicks, initialDelayTicks int64, opts ...TaskOption) *Handle {
	if periodTicks < 1 {
		periodTicks = 1
	}
	if initialDelayTicks < 0 {
		initialDelayTicks = 0
	}
	h := s.newHandle(KindRepeating, task, opts)
	h.period = periodTicks
	h.nextTick = s.current.Load() + initialDelayTicks
	s.enqueueTimed(h)
	return h
}

// RunAsync runs task on a worker goroutine, bounded by AsyncWorkers. The
// task context is cancelled when the handle is cancelled or the scheduler
// closes.
func (s *Scheduler) RunAsync(task Task, opts ...TaskOption) *Handle {
	h := s.newHandle(KindAsync, task, opts)
	ctx, cancel := context.WithCancel(s.asyncCtx)
	h.cancelCtx = cancel

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		h.Cancel()
		s.log.With("task", h.name).Warn("scheduler closed, async task dropped")
		return h
	}
	s.asyncWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.asyncWG.Done()
		defer cancel()
		if err := s.asyncSem.Acquire(ctx, 1); err != nil {
			h.Cancel()
			return
		}
		defer s.asyncSem.Release(1)
		s.fire(ctx, h, s.current.Load())
	}()
	return h
}

// RunSync runs task on the tick goroutine. When ctx is already marked with
// WithTickThread the task runs inline before RunSync returns; otherwise it
// is queued for the next tick and RunSync returns immediately.
func (s *Scheduler) RunSync(ctx context.Context, task Task, opts ...TaskOption) *Handle {
	h := s.newHandle(KindSync, task, opts)
	if OnTickThread(ctx) {
		s.fire(ctx, h, s.current.Load())
		return h
	}
	s.enqueueSync(h)
	return h
}

// Tick advances the counter, drains queued sync work, then fires every timed
// task whose due tick has been reached, in the order they were scheduled.
func (s *Scheduler) Tick(ctx context.Context) int64 {
	ctx = WithTickThread(ctx)
	current := s.current.Add(1)
	s.metrics.SetTick(current)

	s.drainSync(ctx, current)

	for _, h := range s.collectDue(current) {
		s.fire(ctx, h, current)
	}
	return current
}

// CurrentTick returns the number of ticks processed so far.
func (s *Scheduler) CurrentTick() int64 {
	return s.current.Load()
}

// ActiveTaskCount returns how many handles are neither finished nor
// cancelled. Queued sync tasks and running async tasks are included.
func (s *Scheduler) ActiveTaskCount() int {
	return s.active.Count()
}

// PendingSyncCount returns how many RunSync tasks wait for the next tick.
func (s *Scheduler) PendingSyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.syncQueue)
}

// CancelAll cancels every active handle and returns how many were cancelled.
func (s *Scheduler) CancelAll() int {
	s.epoch.Add(1)
	cancelled := 0
	for _, h := range s.active.Items() {
		if h.Cancel() {
			cancelled++
		}
	}

	s.mu.Lock()
	s.syncQueue = slices.DeleteFunc(s.syncQueue, func(h *Handle) bool { return !h.Active() })
	s.mu.Unlock()

	if cancelled > 0 {
		s.log.With("cancelled", cancelled).Info("cancelled all tasks")
	}
	return cancelled
}

// SetDebug toggles per-task debug logging.
func (s *Scheduler) SetDebug(enabled bool) {
	s.debug.Store(enabled)
}

// Close cancels all work, rejects new async tasks and waits for running
// async tasks until ctx is done.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	alreadyClosed := s.closed.Swap(true)
	s.mu.Unlock()

	s.CancelAll()
	s.asyncCancel()
	if alreadyClosed {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.asyncWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for async tasks: %w", ctx.Err())
	}
}

// Status implements telemetry.StatusProvider.
func (s *Scheduler) Status() map[string]any {
	return map[string]any{
		"tick":         s.current.Load(),
		"active":       s.active.Count(),
		"pending_sync": s.PendingSyncCount(),
		"executed":     s.executed.Load(),
		"faults":       s.faults.Load(),
		"debug":        s.debug.Load(),
	}
}

// Summary implements telemetry.StatusProvider.
func (s *Scheduler) Summary() string {
	return telemetry.FormatSummary("scheduler", s.Status())
}

func (s *Scheduler) newHandle(kind Kind, task Task, opts []TaskOption) *Handle {
	id := s.nextID.Add(1)
	h := &Handle{id: id, name: kind.defaultName(id), kind: kind, task: task, sched: s}
	for _, opt := range opts {
		opt(h)
	}
	if task == nil {
		h.task = func(context.Context) error { return nil }
	}
	s.active.Set(h.key(), h)
	if s.debug.Load() {
		s.log.WithFields(map[string]any{
			"task_id": id,
			"task":    h.name,
			"kind":    kind.String(),
		}).Debug("task scheduled")
	}
	return h
}

func (s *Scheduler) enqueueTimed(h *Handle) {
	s.mu.Lock()
	s.timed = append(s.timed, h)
	s.mu.Unlock()
}

func (s *Scheduler) enqueueSync(h *Handle) {
	s.mu.Lock()
	s.syncQueue = append(s.syncQueue, h)
	s.mu.Unlock()
}

func (s *Scheduler) forget(h *Handle) {
	s.active.Remove(h.key())
}

func (s *Scheduler) drainSync(ctx context.Context, current int64) {
	s.mu.Lock()
	n := min(len(s.syncQueue), s.cfg.SyncBatchSize)
	batch := make([]*Handle, n)
	copy(batch, s.syncQueue[:n])
	s.syncQueue = append([]*Handle(nil), s.syncQueue[n:]...)
	s.mu.Unlock()

	for _, h := range batch {
		s.fire(ctx, h, current)
	}
}

// collectDue prunes finished handles and returns the due ones in scheduling
// order. Tasks scheduled while the batch runs wait for a later tick.
func (s *Scheduler) collectDue(current int64) []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Handle
	kept := s.timed[:0]
	for _, h := range s.timed {
		if !h.Active() {
			continue
		}
		kept = append(kept, h)
		if h.nextTick <= current {
			due = append(due, h)
		}
	}
	clear(s.timed[len(kept):])
	s.timed = kept
	return due
}

func (s *Scheduler) fire(ctx context.Context, h *Handle, current int64) {
	if !h.state.CompareAndSwap(statePending, stateRunning) {
		return
	}
	epoch := s.epoch.Load()

	err := pulseerrors.Guard(func() error { return h.task(ctx) })
	h.executions.Add(1)
	s.executed.Add(1)
	s.metrics.TaskExecuted(h.kind.String())

	if err != nil {
		s.faults.Add(1)
		s.metrics.TaskFault(h.kind.String())
		s.log.WithFields(map[string]any{
			"task_id": h.id,
			"task":    h.name,
			"kind":    h.kind.String(),
			"tick":    current,
			"policy":  string(s.cfg.FaultPolicy),
		}).Error(pulseerrors.NewExecutionError(h.id, h.name, err), "task failed")
	} else if s.debug.Load() {
		s.log.WithFields(map[string]any{
			"task_id": h.id,
			"task":    h.name,
			"tick":    current,
		}).Debug("task executed")
	}

	s.settle(h, err, current, epoch)
}

// settle moves a handle out of the running state after one execution.
// epoch is the CancelAll epoch observed when the run started.
func (s *Scheduler) settle(h *Handle, err error, current int64, epoch uint64) {
	if err != nil && h.kind != KindAsync {
		switch s.cfg.FaultPolicy {
		case AbortTask:
			if h.kind == KindRepeating {
				s.finish(h, stateCancelled)
				return
			}
		case RetryOnce:
			if s.epoch.Load() != epoch {
				s.finish(h, stateCancelled)
				return
			}
			if !h.retried {
				h.retried = true
				h.nextTick = current + 1
				if h.state.CompareAndSwap(stateRunning, statePending) && h.kind == KindSync {
					s.enqueueSync(h)
				}
				return
			}
			if h.kind == KindRepeating {
				s.finish(h, stateCancelled)
				return
			}
		}
	}
	if err == nil {
		h.retried = false
	}

	if h.kind == KindRepeating {
		h.nextTick += h.period
		if h.nextTick <= current {
			h.nextTick = current + 1
		}
		h.state.CompareAndSwap(stateRunning, statePending)
		return
	}
	s.finish(h, stateDone)
}

func (s *Scheduler) finish(h *Handle, state int32) {
	if h.state.CompareAndSwap(stateRunning, state) {
		s.forget(h)
	}
}

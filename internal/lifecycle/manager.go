// Package lifecycle coordinates process teardown.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

// ErrShuttingDown is returned when registering a hook after shutdown began.
var ErrShuttingDown = errors.New("shutdown already in progress")

// Hook is one named unit of teardown logic.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Manager runs registered shutdown hooks exactly once, in registration
// order. The first Shutdown call wins through a compare-and-swap; later or
// concurrent calls return immediately, so a hook may itself call Shutdown.
type Manager struct {
	mu    sync.Mutex
	hooks []namedHook

	shuttingDown atomic.Bool
	complete     atomic.Bool
	done         chan struct{}

	log     *logger.Logger
	metrics *telemetry.Metrics
	clock   clock.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log.Component("lifecycle") }
}

// WithMetrics counts failed hooks.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock sets the clock used to time teardown.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New creates a manager with no hooks.
func New(opts ...Option) *Manager {
	m := &Manager{done: make(chan struct{}), clock: clock.New()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterShutdownHook appends a hook. It fails with ErrShuttingDown once
// shutdown has started.
func (m *Manager) RegisterShutdownHook(name string, hook Hook) error {
	if hook == nil {
		return errors.New("shutdown hook is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown.Load() {
		return ErrShuttingDown
	}
	m.hooks = append(m.hooks, namedHook{name: name, fn: hook})
	return nil
}

// RegisterCloser registers c.Close as a shutdown hook.
func (m *Manager) RegisterCloser(name string, c io.Closer) error {
	if c == nil {
		return errors.New("closer is nil")
	}
	return m.RegisterShutdownHook(name, func(context.Context) error {
		return c.Close()
	})
}

// Shutdown runs every hook once. A failing or panicking hook is logged and
// does not stop the rest. The first caller receives the combined hook
// errors; every later call returns nil without waiting.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	started := m.clock.Now()
	m.log.With("hooks", len(hooks)).Info("shutdown started")

	var errs error
	for _, hook := range hooks {
		err := pulseerrors.Guard(func() error { return hook.fn(ctx) })
		if err == nil {
			m.log.With("hook", hook.name).Debug("shutdown hook finished")
			continue
		}
		hookErr := pulseerrors.NewHookError(hook.name, err)
		m.metrics.HookFault()
		m.log.With("hook", hook.name).Error(hookErr, "shutdown hook failed")
		errs = multierr.Append(errs, hookErr)
	}

	m.log.WithFields(map[string]any{
		"duration": m.clock.Since(started).String(),
		"failed":   len(multierr.Errors(errs)),
	}).Info("shutdown complete")

	m.complete.Store(true)
	close(m.done)
	return errs
}

// IsShuttingDown reports whether Shutdown has been called.
func (m *Manager) IsShuttingDown() bool {
	return m.shuttingDown.Load()
}

// IsShutdownComplete reports whether every hook has run.
func (m *Manager) IsShutdownComplete() bool {
	return m.complete.Load()
}

// Done is closed once shutdown completes.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// HookCount returns the number of registered hooks.
func (m *Manager) HookCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hooks)
}

// NotifyOnSignal triggers Shutdown when one of sigs arrives. The returned
// function stops listening. Watching also stops when ctx is done or
// shutdown completes by other means.
func (m *Manager) NotifyOnSignal(ctx context.Context, sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})
	var once sync.Once

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			m.log.With("signal", sig.String()).Info("signal received")
			_ = m.Shutdown(context.WithoutCancel(ctx))
		case <-ctx.Done():
		case <-m.done:
		case <-quit:
		}
	}()

	return func() { once.Do(func() { close(quit) }) }
}

// CancelOnSignal returns a child of parent that is cancelled when one of
// sigs arrives. Unlike NotifyOnSignal it leaves shutdown to whoever owns the
// context, so teardown can run on the goroutine driving the work. The
// returned cancel func also stops listening.
func (m *Manager) CancelOnSignal(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			m.log.With("signal", sig.String()).Info("signal received")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

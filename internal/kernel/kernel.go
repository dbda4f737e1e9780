// Package kernel wires the event bus, scheduler, mod loader and lifecycle
// manager into one context object owned by the host process.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pulse/internal/config"
	"github.com/alexisbeaulieu97/pulse/internal/events"
	"github.com/alexisbeaulieu97/pulse/internal/lifecycle"
	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/mod"
	"github.com/alexisbeaulieu97/pulse/internal/reflectcache"
	"github.com/alexisbeaulieu97/pulse/internal/scheduler"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
)

// Kernel is the explicit runtime context. One instance exists per host
// process and is passed to every component that needs it.
type Kernel struct {
	id  string
	cfg config.Config

	log     *logger.Logger
	metrics *telemetry.Metrics
	clock   clock.Clock

	bus       *events.Bus
	sched     *scheduler.Scheduler
	loader    *mod.Loader
	lifecycle *lifecycle.Manager
}

type options struct {
	log        *logger.Logger
	metrics    *telemetry.Metrics
	clock      clock.Clock
	tracer     trace.TracerProvider
	registrar  mod.InjectionRegistrar
	classifier mod.SideClassifier
}

// Option configures a Kernel.
type Option func(*options)

// WithLogger sets the root logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics shares a metrics registry.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock drives the heartbeat from c. Tests use clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTracerProvider sets the tracer provider for publish and load spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithRegistrar sets the injection registrar handed to the mod loader.
func WithRegistrar(r mod.InjectionRegistrar) Option {
	return func(o *options) { o.registrar = r }
}

// WithClassifier overrides the side classifier derived from the config.
func WithClassifier(c mod.SideClassifier) Option {
	return func(o *options) { o.classifier = c }
}

// New builds a kernel from a validated configuration and registers the
// default shutdown hooks.
func New(cfg config.Config, opts ...Option) (*Kernel, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	side, err := mod.ParseSide(cfg.Side)
	if err != nil {
		return nil, err
	}

	o := options{
		log:        logger.Nop(),
		clock:      clock.New(),
		registrar:  mod.AcceptAll,
		classifier: mod.PermissionClassifier{Current: side},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewMetrics()
	}

	caps, err := reflectcache.New[mod.Capabilities](cfg.Cache.Size)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := o.log.With("kernel_id", id)
	tracer := telemetry.Tracer(o.tracer)

	k := &Kernel{
		id:      id,
		cfg:     cfg,
		log:     log,
		metrics: o.metrics,
		clock:   o.clock,
	}

	k.bus = events.New(
		events.WithLogger(log),
		events.WithMetrics(o.metrics),
		events.WithTracer(tracer),
	)
	k.bus.SetDebug(cfg.Debug)

	k.sched = scheduler.New(scheduler.Config{
		SyncBatchSize: cfg.Scheduler.SyncBatchSize,
		AsyncWorkers:  cfg.Scheduler.AsyncWorkers,
		FaultPolicy:   scheduler.FaultPolicy(cfg.Scheduler.FaultPolicy),
	}, scheduler.WithLogger(log), scheduler.WithMetrics(o.metrics))
	k.sched.SetDebug(cfg.Debug)

	k.loader = mod.NewLoader(k,
		mod.WithRegistrar(o.registrar),
		mod.WithClassifier(o.classifier),
		mod.WithStrictVersions(cfg.Loader.StrictVersions),
		mod.WithLogger(log),
		mod.WithMetrics(o.metrics),
		mod.WithTracer(tracer),
		mod.WithClock(o.clock),
		mod.WithCapabilityCache(caps),
	)

	k.lifecycle = lifecycle.New(
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(o.metrics),
		lifecycle.WithClock(o.clock),
	)
	if err := k.registerDefaultHooks(); err != nil {
		return nil, err
	}

	return k, nil
}

func (k *Kernel) registerDefaultHooks() error {
	hooks := []struct {
		name string
		fn   lifecycle.Hook
	}{
		{"publish-shutdown-event", func(ctx context.Context) error {
			k.bus.Publish(scheduler.WithTickThread(ctx), events.NewShutdownEvent())
			return nil
		}},
		{"unload-mods", k.loader.UnloadAll},
		{"close-scheduler", k.sched.Close},
		{"clear-event-bus", func(context.Context) error {
			k.bus.ClearAll()
			return nil
		}},
	}

	var errs error
	for _, hook := range hooks {
		errs = multierr.Append(errs, k.lifecycle.RegisterShutdownHook(hook.name, hook.fn))
	}
	return errs
}

// ID returns the kernel instance id.
func (k *Kernel) ID() string { return k.id }

// Config returns the configuration the kernel was built with.
func (k *Kernel) Config() config.Config { return k.cfg }

// Events implements mod.Host.
func (k *Kernel) Events() *events.Bus { return k.bus }

// Scheduler implements mod.Host.
func (k *Kernel) Scheduler() *scheduler.Scheduler { return k.sched }

// Logger implements mod.Host.
func (k *Kernel) Logger() *logger.Logger { return k.log }

// Loader returns the mod loader.
func (k *Kernel) Loader() *mod.Loader { return k.loader }

// Lifecycle returns the shutdown coordinator.
func (k *Kernel) Lifecycle() *lifecycle.Manager { return k.lifecycle }

// Metrics returns the metrics registry.
func (k *Kernel) Metrics() *telemetry.Metrics { return k.metrics }

// LoadMods discovers manifests in the configured mods directory, if any,
// then loads every discovered mod. Failures are combined; they never stop
// unrelated mods from loading.
func (k *Kernel) LoadMods(ctx context.Context, factories map[string]mod.Factory) (mod.LoadOrder, error) {
	var errs error
	if dir := k.cfg.Loader.ModsDir; dir != "" {
		errs = multierr.Append(errs, k.loader.Discover(dir, factories))
	}
	order, err := k.loader.LoadAll(ctx)
	return order, multierr.Append(errs, err)
}

// Heartbeat runs one tick: a TickStart event, the scheduler tick, then a
// TickEnd event, all on a tick-thread context.
func (k *Kernel) Heartbeat(ctx context.Context) int64 {
	ctx = scheduler.WithTickThread(ctx)
	k.bus.Publish(ctx, events.NewTickEvent(k.sched.CurrentTick()+1, events.TickStart))
	tick := k.sched.Tick(ctx)
	k.bus.Publish(ctx, events.NewTickEvent(tick, events.TickEnd))
	return tick
}

// Run drives the heartbeat at the configured tick rate until ctx is done,
// shutdown starts elsewhere, or maxTicks heartbeats have run (zero means no
// limit). It then shuts the kernel down within ShutdownTimeout.
func (k *Kernel) Run(ctx context.Context, maxTicks int64) error {
	ticker := k.clock.Ticker(k.cfg.TickRate)
	defer ticker.Stop()

	k.log.Component("kernel").WithFields(map[string]any{
		"tick_rate": k.cfg.TickRate.String(),
		"max_ticks": maxTicks,
	}).Info("kernel running")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.Canceled) {
				runErr = ctx.Err()
			}
			break loop
		case <-k.lifecycle.Done():
			return nil
		case <-ticker.C:
			if k.lifecycle.IsShuttingDown() {
				break loop
			}
			if ctx.Err() != nil {
				continue
			}
			if tick := k.Heartbeat(ctx); maxTicks > 0 && tick >= maxTicks {
				break loop
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.ShutdownTimeout)
	defer cancel()
	if err := k.Shutdown(shutdownCtx); err != nil {
		return multierr.Append(runErr, fmt.Errorf("shutdown: %w", err))
	}
	return runErr
}

// RunUntilSignal is Run with ctx cancelled by any of sigs. Shutdown then
// happens on the calling goroutine once the current heartbeat returns.
func (k *Kernel) RunUntilSignal(ctx context.Context, maxTicks int64, sigs ...os.Signal) error {
	ctx, cancel := k.lifecycle.CancelOnSignal(ctx, sigs...)
	defer cancel()
	return k.Run(ctx, maxTicks)
}

// Shutdown runs the shutdown hooks once; later calls are no-ops.
func (k *Kernel) Shutdown(ctx context.Context) error {
	return k.lifecycle.Shutdown(ctx)
}

// Components returns the status providers of every subsystem.
func (k *Kernel) Components() []telemetry.StatusProvider {
	return []telemetry.StatusProvider{k.bus, k.sched, k.loader}
}

// Status implements telemetry.StatusProvider.
func (k *Kernel) Status() map[string]any {
	return map[string]any{
		"id":            k.id,
		"side":          k.cfg.Side,
		"tick":          k.sched.CurrentTick(),
		"mods":          k.loader.ModCount(),
		"loaded":        k.loader.LoadOrder().Len(),
		"active_tasks":  k.sched.ActiveTaskCount(),
		"shutting_down": k.lifecycle.IsShuttingDown(),
	}
}

// Summary implements telemetry.StatusProvider.
func (k *Kernel) Summary() string {
	return telemetry.FormatSummary("kernel", k.Status())
}

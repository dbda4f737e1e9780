package kernel

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pulse/internal/config"
	"github.com/alexisbeaulieu97/pulse/internal/events"
	"github.com/alexisbeaulieu97/pulse/internal/mod"
	"github.com/alexisbeaulieu97/pulse/internal/scheduler"
	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

func newKernel(t *testing.T, mutate func(*config.Config), opts ...Option) *Kernel {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	k, err := New(cfg, opts...)
	require.NoError(t, err)
	return k
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Scheduler.FaultPolicy = "shrug"
	_, err := New(cfg)
	var validationErr *pulseerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestHeartbeatOrdersEventsAroundTasks(t *testing.T) {
	t.Parallel()

	k := newKernel(t, nil)
	var trace []string
	events.Subscribe(k.Events(), "recorder", func(ctx context.Context, e *events.TickEvent) error {
		trace = append(trace, string(e.Phase))
		if e.Phase == events.TickStart {
			k.Scheduler().RunSync(ctx, func(context.Context) error {
				trace = append(trace, "inline-sync")
				return nil
			})
		}
		return nil
	})
	k.Scheduler().RunLater(func(context.Context) error {
		trace = append(trace, "task")
		return nil
	}, 1)
	k.Scheduler().RunSync(context.Background(), func(context.Context) error {
		trace = append(trace, "queued-sync")
		return nil
	})

	require.Equal(t, int64(1), k.Heartbeat(context.Background()))
	assert.Equal(t, []string{"start", "inline-sync", "queued-sync", "task", "end"}, trace)
}

func TestTickEventsCarryTickNumber(t *testing.T) {
	t.Parallel()

	k := newKernel(t, nil)
	var seen []int64
	events.Subscribe(k.Events(), "recorder", func(_ context.Context, e *events.TickEvent) error {
		seen = append(seen, e.Tick)
		return nil
	})

	k.Heartbeat(context.Background())
	k.Heartbeat(context.Background())
	assert.Equal(t, []int64{1, 1, 2, 2}, seen)
}

type greeter struct {
	ticks   int
	unloads int
}

func (g *greeter) Initialize(_ context.Context, host mod.Host) error {
	events.Subscribe(host.Events(), "greeter", func(context.Context, *events.TickEvent) error {
		g.ticks++
		return nil
	})
	host.Scheduler().RunTimer(func(context.Context) error { return nil }, 2, 0, scheduler.Named("greeter-timer"))
	return nil
}

func (g *greeter) Unload(context.Context) error {
	g.unloads++
	return nil
}

func TestRunDrivesHeartbeatThenShutsDown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.yaml"), []byte("id: greeter\nversion: 1.0.0\n"), 0o600))

	mock := clock.NewMock()
	k := newKernel(t, func(cfg *config.Config) { cfg.Loader.ModsDir = dir }, WithClock(mock))

	g := &greeter{}
	order, err := k.LoadMods(context.Background(), map[string]mod.Factory{"greeter": func() mod.Mod { return g }})
	require.NoError(t, err)
	require.Equal(t, []string{"greeter"}, order.IDs())
	require.Equal(t, 1, k.Scheduler().ActiveTaskCount())

	var shutdownSeen bool
	events.Subscribe(k.Events(), "recorder", func(context.Context, *events.ShutdownEvent) error {
		shutdownSeen = true
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- k.Run(context.Background(), 3) }()

	var runErr error
	require.Eventually(t, func() bool {
		mock.Add(k.Config().TickRate)
		select {
		case runErr = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, runErr)
	assert.Equal(t, int64(3), k.Scheduler().CurrentTick())
	assert.Equal(t, 6, g.ticks, "start and end events for each of three ticks")
	assert.True(t, shutdownSeen)
	assert.Equal(t, 1, g.unloads)
	assert.Equal(t, mod.StateUnloaded, k.Loader().GetMod("greeter").State())
	assert.Zero(t, k.Scheduler().ActiveTaskCount())
	assert.Zero(t, k.Events().ListenerCount(events.TypeOf[*events.TickEvent]()))
	assert.True(t, k.Lifecycle().IsShutdownComplete())

	require.NoError(t, k.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	k := newKernel(t, nil, WithClock(clock.NewMock()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx, 0) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.True(t, k.Lifecycle().IsShutdownComplete())
}

func TestRunUntilSignalTearsDownAfterHeartbeat(t *testing.T) {
	mock := clock.NewMock()
	k := newKernel(t, nil, WithClock(mock))

	var trace []string
	shuttingDownMidTick := true
	events.Subscribe(k.Events(), "recorder", func(ctx context.Context, e *events.TickEvent) error {
		if e.Phase == events.TickEnd {
			trace = append(trace, "end")
			return nil
		}
		if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR2); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		shuttingDownMidTick = k.Lifecycle().IsShuttingDown()
		trace = append(trace, "start")
		return nil
	})
	require.NoError(t, k.Lifecycle().RegisterShutdownHook("record", func(context.Context) error {
		trace = append(trace, "hook")
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- k.RunUntilSignal(context.Background(), 0, syscall.SIGUSR2) }()

	var runErr error
	require.Eventually(t, func() bool {
		mock.Add(k.Config().TickRate)
		select {
		case runErr = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, runErr)
	assert.False(t, shuttingDownMidTick)
	assert.Equal(t, []string{"start", "end", "hook"}, trace)
	assert.Equal(t, int64(1), k.Scheduler().CurrentTick())
	assert.True(t, k.Lifecycle().IsShutdownComplete())
}

func TestRunReturnsWhenShutdownHappensElsewhere(t *testing.T) {
	t.Parallel()

	k := newKernel(t, nil, WithClock(clock.NewMock()))
	done := make(chan error, 1)
	go func() { done <- k.Run(context.Background(), 0) }()

	require.NoError(t, k.Shutdown(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not observe shutdown")
	}
}

func TestSideClassifierComesFromConfig(t *testing.T) {
	t.Parallel()

	k := newKernel(t, func(cfg *config.Config) { cfg.Side = "server" })
	meta := mod.Metadata{ID: "hud", Version: "1.0.0", Permissions: []string{mod.PermissionClientOnly}}
	require.NoError(t, k.Loader().Add(meta, mod.Func(func(context.Context, mod.Host) error { return nil })))

	_, err := k.LoadMods(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, mod.StateUnloaded, k.Loader().GetMod("hud").State())
}

func TestStatusSummary(t *testing.T) {
	t.Parallel()

	k := newKernel(t, nil)
	k.Heartbeat(context.Background())

	status := k.Status()
	assert.Equal(t, k.ID(), status["id"])
	assert.Equal(t, int64(1), status["tick"])
	assert.Contains(t, k.Summary(), "kernel: active_tasks=0")
	assert.Len(t, k.Components(), 3)
}

package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

func TestShutdownRunsHooksInOrderOnce(t *testing.T) {
	t.Parallel()

	m := New()
	var calls []string
	for _, name := range []string{"save", "flush", "close"} {
		name := name
		require.NoError(t, m.RegisterShutdownHook(name, func(context.Context) error {
			calls = append(calls, name)
			return nil
		}))
	}

	assert.False(t, m.IsShuttingDown())
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Equal(t, []string{"save", "flush", "close"}, calls)
	assert.True(t, m.IsShuttingDown())
	assert.True(t, m.IsShutdownComplete())
}

func TestConcurrentShutdownIsExactlyOnce(t *testing.T) {
	t.Parallel()

	m := New()
	var mu sync.Mutex
	counts := map[int]int{}
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, m.RegisterShutdownHook("hook", func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			counts[i]++
			order = append(order, i)
			return nil
		}))
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Shutdown(context.Background())
		}()
	}
	wg.Wait()
	<-m.Done()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, counts[i])
	}
}

func TestFailingHooksAreIsolated(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := logger.New(logger.Options{Level: "info", Writer: buf})
	require.NoError(t, err)
	metrics := telemetry.NewMetrics()
	m := New(WithLogger(log), WithMetrics(metrics))

	ran := false
	require.NoError(t, m.RegisterShutdownHook("explodes", func(context.Context) error { panic("kaboom") }))
	require.NoError(t, m.RegisterShutdownHook("errors", func(context.Context) error { return errors.New("disk full") }))
	require.NoError(t, m.RegisterShutdownHook("last", func(context.Context) error { ran = true; return nil }))

	err = m.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, ran)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var hookErr *pulseerrors.HookError
	require.ErrorAs(t, errs[0], &hookErr)
	assert.Equal(t, "explodes", hookErr.Hook)
	var panicErr *pulseerrors.PanicError
	assert.ErrorAs(t, errs[0], &panicErr)

	expected := `
# HELP pulse_shutdown_hook_faults_total Shutdown hooks that returned an error or panicked.
# TYPE pulse_shutdown_hook_faults_total counter
pulse_shutdown_hook_faults_total 2
`
	require.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "pulse_shutdown_hook_faults_total"))
	assert.Contains(t, buf.String(), `"hook":"errors"`)
}

func TestHookMayTriggerShutdownWithoutDeadlock(t *testing.T) {
	t.Parallel()

	m := New()
	var nested error = errors.New("unset")
	require.NoError(t, m.RegisterShutdownHook("reentrant", func(ctx context.Context) error {
		nested = m.Shutdown(ctx)
		return nil
	}))

	done := make(chan struct{})
	go func() {
		_ = m.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant shutdown deadlocked")
	}
	assert.NoError(t, nested)
}

func TestRegisterAfterShutdownIsRejected(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorIs(t, m.RegisterShutdownHook("late", func(context.Context) error { return nil }), ErrShuttingDown)
	assert.Zero(t, m.HookCount())
	assert.Error(t, m.RegisterShutdownHook("nil", nil))
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRegisterCloser(t *testing.T) {
	t.Parallel()

	m := New()
	closed := false
	require.NoError(t, m.RegisterCloser("db", closerFunc(func() error { closed = true; return nil })))
	require.Error(t, m.RegisterCloser("nil", nil))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, closed)
}

func TestNotifyOnSignal(t *testing.T) {
	m := New()
	ran := make(chan struct{})
	require.NoError(t, m.RegisterShutdownHook("signal", func(context.Context) error {
		close(ran)
		return nil
	}))

	stop := m.NotifyOnSignal(context.Background(), syscall.SIGUSR1)
	defer stop()
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	<-m.Done()
	assert.True(t, m.IsShutdownComplete())
}

func TestCancelOnSignalLeavesShutdownToCaller(t *testing.T) {
	m := New()
	ctx, cancel := m.CancelOnSignal(context.Background(), syscall.SIGUSR2)
	defer cancel()
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR2))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not cancel the context")
	}
	assert.False(t, m.IsShuttingDown())
}


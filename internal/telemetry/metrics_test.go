package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.EventPublished("Tick")
	m.EventPublished("Tick")
	m.ListenerFault("Tick", "hello")
	m.TaskExecuted("repeating")
	m.TaskFault("repeating")
	m.HookFault()
	m.SetTick(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("Tick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listenerFaults.WithLabelValues("Tick", "hello")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksExecuted.WithLabelValues("repeating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskFaults.WithLabelValues("repeating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hookFaults))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.currentTick))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsModStatesReset(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.SetModStates(map[string]int{"ACTIVE": 2, "FAILED": 1})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.modStates.WithLabelValues("ACTIVE")))

	m.SetModStates(map[string]int{"UNLOADED": 3})
	assert.Equal(t, 1, testutil.CollectAndCount(m.modStates))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.modStates.WithLabelValues("UNLOADED")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventPublished("x")
		m.ListenerFault("x", "y")
		m.TaskExecuted("x")
		m.TaskFault("x")
		m.HookFault()
		m.SetModStates(map[string]int{"ACTIVE": 1})
		m.SetTick(1)
	})
	assert.Nil(t, m.Registry())
}

func TestFormatSummarySortsKeys(t *testing.T) {
	t.Parallel()

	got := FormatSummary("scheduler", map[string]any{"tick": 5, "active": 2})
	assert.Equal(t, "scheduler: active=2, tick=5", got)
}

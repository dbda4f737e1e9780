package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pulse"

// Metrics records kernel counters in a private Prometheus registry. Every
// method tolerates a nil receiver so components can run without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished *prometheus.CounterVec
	listenerFaults  *prometheus.CounterVec
	tasksExecuted   *prometheus.CounterVec
	taskFaults      *prometheus.CounterVec
	hookFaults      prometheus.Counter
	modStates       *prometheus.GaugeVec
	currentTick     prometheus.Gauge
}

// NewMetrics creates the kernel collectors and registers them.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the bus, by event name.",
		}, []string{"event"}),
		listenerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_faults_total",
			Help:      "Listener invocations that returned an error or panicked.",
		}, []string{"event", "subscriber"}),
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_executed_total",
			Help:      "Scheduled task executions, by kind.",
		}, []string{"kind"}),
		taskFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_faults_total",
			Help:      "Scheduled task executions that failed, by kind.",
		}, []string{"kind"}),
		hookFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdown_hook_faults_total",
			Help:      "Shutdown hooks that returned an error or panicked.",
		}),
		modStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mods",
			Help:      "Number of mods currently in each lifecycle state.",
		}, []string{"state"}),
		currentTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_tick",
			Help:      "Scheduler tick counter.",
		}),
	}

	m.registry.MustRegister(
		m.eventsPublished,
		m.listenerFaults,
		m.tasksExecuted,
		m.taskFaults,
		m.hookFaults,
		m.modStates,
		m.currentTick,
	)
	return m
}

// Registry exposes the underlying registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// EventPublished counts one publish call.
func (m *Metrics) EventPublished(event string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(event).Inc()
}

// ListenerFault counts one failed listener invocation.
func (m *Metrics) ListenerFault(event, subscriber string) {
	if m == nil {
		return
	}
	m.listenerFaults.WithLabelValues(event, subscriber).Inc()
}

// TaskExecuted counts one task run.
func (m *Metrics) TaskExecuted(kind string) {
	if m == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(kind).Inc()
}

// TaskFault counts one failed task run.
func (m *Metrics) TaskFault(kind string) {
	if m == nil {
		return
	}
	m.taskFaults.WithLabelValues(kind).Inc()
}

// HookFault counts one failed shutdown hook.
func (m *Metrics) HookFault() {
	if m == nil {
		return
	}
	m.hookFaults.Inc()
}

// SetModStates replaces the per-state mod gauge with the supplied counts.
func (m *Metrics) SetModStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.modStates.Reset()
	for state, n := range counts {
		m.modStates.WithLabelValues(state).Set(float64(n))
	}
}

// SetTick records the scheduler tick counter.
func (m *Metrics) SetTick(tick int64) {
	if m == nil {
		return
	}
	m.currentTick.Set(float64(tick))
}

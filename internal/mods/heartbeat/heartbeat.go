// Package heartbeat provides a mod that counts kernel ticks and logs a
// periodic liveness line.
package heartbeat

import (
	"context"
	"sync/atomic"

	"github.com/alexisbeaulieu97/pulse/internal/events"
	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/mod"
	"github.com/alexisbeaulieu97/pulse/internal/scheduler"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
)

// ID is the mod id and entry point name.
const ID = "heartbeat"

// Mod logs "alive" every Every ticks.
type Mod struct {
	every int64

	log   *logger.Logger
	timer *scheduler.Handle

	ticks atomic.Int64
	beats atomic.Int64
}

var (
	_ mod.Mod                  = (*Mod)(nil)
	_ mod.Unloader             = (*Mod)(nil)
	_ telemetry.StatusProvider = (*Mod)(nil)
)

// New returns a heartbeat mod firing every ticks; values below one become one.
func New(every int64) *Mod {
	return &Mod{every: max(every, 1)}
}

// Initialize subscribes to tick events and starts the liveness timer.
func (m *Mod) Initialize(_ context.Context, host mod.Host) error {
	m.log = host.Logger().Component(ID)

	events.Subscribe(host.Events(), ID, func(_ context.Context, e *events.TickEvent) error {
		if e.Phase == events.TickEnd {
			m.ticks.Store(e.Tick)
		}
		return nil
	})

	m.timer = host.Scheduler().RunTimer(func(context.Context) error {
		beats := m.beats.Add(1)
		m.log.WithFields(map[string]any{
			"beat": beats,
			"tick": host.Scheduler().CurrentTick(),
		}).Info("alive")
		return nil
	}, m.every, m.every, scheduler.Named("heartbeat"))
	return nil
}

// Unload stops the timer. Event subscriptions are dropped by the loader.
func (m *Mod) Unload(context.Context) error {
	if m.timer != nil {
		m.timer.Cancel()
	}
	return nil
}

// Beats returns how many liveness lines were logged.
func (m *Mod) Beats() int64 { return m.beats.Load() }

// Status implements telemetry.StatusProvider.
func (m *Mod) Status() map[string]any {
	return map[string]any{
		"every":     m.every,
		"beats":     m.beats.Load(),
		"last_tick": m.ticks.Load(),
	}
}

// Summary implements telemetry.StatusProvider.
func (m *Mod) Summary() string {
	return telemetry.FormatSummary(ID, m.Status())
}

// Package command provides a mod that runs a shell command on an async
// worker every few ticks.
package command

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/pulse/internal/config"
	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/mod"
	"github.com/alexisbeaulieu97/pulse/internal/scheduler"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
)

// ID is the mod id and entry point name.
const ID = "command"

// Mod runs Run through a shell. PULSE_TICK holds the tick that triggered
// the run. Overlapping runs are skipped.
type Mod struct {
	cfg config.CommandConfig

	host  mod.Host
	log   *logger.Logger
	timer *scheduler.Handle

	mu         sync.Mutex
	inFlight   *scheduler.Handle
	runs       int64
	failures   int64
	skipped    int64
	lastOutput string
}

var (
	_ mod.Mod                  = (*Mod)(nil)
	_ mod.Unloader             = (*Mod)(nil)
	_ telemetry.StatusProvider = (*Mod)(nil)
)

// New returns a command mod. An empty cfg.Run leaves the mod idle.
func New(cfg config.CommandConfig) *Mod {
	cfg.Every = max(cfg.Every, 1)
	return &Mod{cfg: cfg}
}

// Initialize resolves the shell and starts the trigger timer.
func (m *Mod) Initialize(_ context.Context, host mod.Host) error {
	m.host = host
	m.log = host.Logger().Component(ID)
	if m.cfg.Run == "" {
		m.log.Info("no command configured, mod idle")
		return nil
	}
	if _, err := resolveShell(m.cfg.Shell); err != nil {
		return err
	}

	m.timer = host.Scheduler().RunTimer(func(context.Context) error {
		m.trigger(host.Scheduler().CurrentTick())
		return nil
	}, m.cfg.Every, m.cfg.Every, scheduler.Named("command-trigger"))
	return nil
}

// Unload stops the timer and cancels a running command.
func (m *Mod) Unload(context.Context) error {
	if m.timer != nil {
		m.timer.Cancel()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight != nil {
		m.inFlight.Cancel()
	}
	return nil
}

func (m *Mod) trigger(tick int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight != nil && m.inFlight.Active() {
		m.skipped++
		m.log.With("tick", tick).Debug("previous command still running, skipping")
		return
	}
	m.inFlight = m.host.Scheduler().RunAsync(func(ctx context.Context) error {
		return m.execute(ctx, tick)
	}, scheduler.Named("command-run"))
}

func (m *Mod) execute(ctx context.Context, tick int64) error {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	sh, err := resolveShell(m.cfg.Shell)
	if err != nil {
		return err
	}

	env := maps.Clone(m.cfg.Env)
	if env == nil {
		env = make(map[string]string, 1)
	}
	env["PULSE_TICK"] = strconv.FormatInt(tick, 10)
	cmd := sh.command(ctx, m.cfg.Run, env)
	if m.cfg.WorkDir != "" {
		cmd.Dir = m.cfg.WorkDir
	}

	start := time.Now()
	res, err := capture(cmd)
	log := m.log.WithFields(map[string]any{
		"tick":     tick,
		"duration": time.Since(start).String(),
	})

	m.mu.Lock()
	m.runs++
	m.lastOutput = res.summary()
	if err != nil {
		m.failures++
	}
	m.mu.Unlock()

	if err != nil {
		if out := res.summary(); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	log.With("output", res.stdout).Debug("command finished")
	return nil
}

// Runs returns how many times the command ran, including failures.
func (m *Mod) Runs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

// LastOutput returns stderr of the last run if it wrote any, else stdout.
func (m *Mod) LastOutput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOutput
}

// Status implements telemetry.StatusProvider.
func (m *Mod) Status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"run":      m.cfg.Run,
		"every":    m.cfg.Every,
		"runs":     m.runs,
		"failures": m.failures,
		"skipped":  m.skipped,
	}
}

// Summary implements telemetry.StatusProvider.
func (m *Mod) Summary() string {
	return telemetry.FormatSummary(ID, m.Status())
}

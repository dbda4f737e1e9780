// Package snapshot provides a mod that periodically writes the kernel's
// scheduler and event bus status to a YAML file.
package snapshot

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/mod"
	"github.com/alexisbeaulieu97/pulse/internal/scheduler"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
)

// ID is the mod id and entry point name.
const ID = "snapshot"

const filePerm = 0o644

// Document is the on-disk snapshot layout.
type Document struct {
	Tick      int64          `yaml:"tick"`
	Final     bool           `yaml:"final,omitempty"`
	Scheduler map[string]any `yaml:"scheduler"`
	Events    map[string]any `yaml:"events"`
}

// Mod captures status on the tick thread and writes it from an async worker.
type Mod struct {
	path  string
	every int64

	host  mod.Host
	log   *logger.Logger
	timer *scheduler.Handle

	writeMu sync.Mutex

	mu       sync.Mutex
	inFlight *scheduler.Handle
	writes   int64
	skipped  int64
	lastErr  error
}

var (
	_ mod.Mod                  = (*Mod)(nil)
	_ mod.Unloader             = (*Mod)(nil)
	_ telemetry.StatusProvider = (*Mod)(nil)
)

// New returns a snapshot mod writing to path every ticks. An empty path
// leaves the mod loaded but idle.
func New(path string, every int64) *Mod {
	return &Mod{path: path, every: max(every, 1)}
}

// Initialize starts the capture timer.
func (m *Mod) Initialize(_ context.Context, host mod.Host) error {
	m.host = host
	m.log = host.Logger().Component(ID).With("path", m.path)
	if m.path == "" {
		m.log.Info("no snapshot path configured, snapshots disabled")
		return nil
	}

	m.timer = host.Scheduler().RunTimer(func(context.Context) error {
		m.schedule(m.capture(false))
		return nil
	}, m.every, m.every, scheduler.Named("snapshot-capture"))
	return nil
}

// Unload stops the timer and writes a final snapshot inline.
func (m *Mod) Unload(context.Context) error {
	if m.path == "" {
		return nil
	}
	if m.timer != nil {
		m.timer.Cancel()
	}
	m.mu.Lock()
	if m.inFlight != nil {
		m.inFlight.Cancel()
	}
	m.mu.Unlock()
	return m.write(context.Background(), m.capture(true))
}

func (m *Mod) capture(final bool) Document {
	return Document{
		Tick:      m.host.Scheduler().CurrentTick(),
		Final:     final,
		Scheduler: m.host.Scheduler().Status(),
		Events:    m.host.Events().Status(),
	}
}

// schedule hands doc to an async worker unless a previous write is still
// running, in which case the capture is dropped.
func (m *Mod) schedule(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight != nil && m.inFlight.Active() {
		m.skipped++
		m.log.With("tick", doc.Tick).Debug("previous snapshot still writing, skipping")
		return
	}
	m.inFlight = m.host.Scheduler().RunAsync(func(ctx context.Context) error {
		return m.write(ctx, doc)
	}, scheduler.Named("snapshot-write"))
}

// write serializes disk access; a cancelled ctx observed under the lock
// means a newer snapshot supersedes doc.
func (m *Mod) write(ctx context.Context, doc Document) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(doc)
	if err == nil {
		err = replaceFile(m.path, data, filePerm)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = fmt.Errorf("write snapshot %s: %w", m.path, err)
		return m.lastErr
	}
	m.writes++
	m.lastErr = nil
	return nil
}

// Writes returns how many snapshots reached disk.
func (m *Mod) Writes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Status implements telemetry.StatusProvider.
func (m *Mod) Status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := map[string]any{
		"path":    m.path,
		"every":   m.every,
		"writes":  m.writes,
		"skipped": m.skipped,
	}
	if m.lastErr != nil {
		status["last_error"] = m.lastErr.Error()
	}
	return status
}

// Summary implements telemetry.StatusProvider.
func (m *Mod) Summary() string {
	return telemetry.FormatSummary(ID, m.Status())
}

package mod

import (
	"sync"
	"time"
)

// State is a mod lifecycle state.
type State int

const (
	StateDiscovered State = iota
	StateDependenciesResolved
	StateMixinsApplied
	StateInitialized
	StateActive
	StateFailed
	StateUnloaded
)

var stateNames = map[State]string{
	StateDiscovered:           "DISCOVERED",
	StateDependenciesResolved: "DEPENDENCIES_RESOLVED",
	StateMixinsApplied:        "MIXINS_APPLIED",
	StateInitialized:          "INITIALIZED",
	StateActive:               "ACTIVE",
	StateFailed:               "FAILED",
	StateUnloaded:             "UNLOADED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Loaded reports whether the mod finished initialising.
func (s State) Loaded() bool {
	return s == StateInitialized || s == StateActive
}

// canTransition encodes the lifecycle: one step forward along the happy
// path, FAILED from any state that is neither FAILED nor UNLOADED, and
// UNLOADED from anywhere except itself.
func canTransition(from, to State) bool {
	switch to {
	case StateUnloaded:
		return from != StateUnloaded
	case StateFailed:
		return from != StateFailed && from != StateUnloaded
	default:
		return from < StateFailed && to == from+1
	}
}

// Container wraps one mod instance with its metadata and lifecycle state.
type Container struct {
	meta     Metadata
	instance Mod

	mu        sync.RWMutex
	state     State
	err       error
	changedAt time.Time
}

func newContainer(meta Metadata, instance Mod) *Container {
	return &Container{meta: meta, instance: instance, state: StateDiscovered, changedAt: time.Now()}
}

// ID returns the mod id.
func (c *Container) ID() string { return c.meta.ID }

// Metadata returns the mod descriptor.
func (c *Container) Metadata() Metadata { return c.meta }

// Instance returns the mod implementation.
func (c *Container) Instance() Mod { return c.instance }

// State returns the current lifecycle state.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the recorded failure cause, if any.
func (c *Container) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// ChangedAt returns when the state last changed.
func (c *Container) ChangedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changedAt
}

// transition moves the container to next and returns the previous state.
// A cause is recorded only when moving to FAILED.
func (c *Container) transition(next State, cause error, now time.Time) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	if !canTransition(prev, next) {
		return prev, ErrInvalidTransition{Mod: c.meta.ID, From: prev, To: next}
	}
	c.state = next
	c.changedAt = now
	if next == StateFailed {
		c.err = cause
	}
	return prev, nil
}

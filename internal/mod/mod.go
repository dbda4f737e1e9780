// Package mod discovers mods, resolves their dependencies into a load order
// and drives each one through its lifecycle.
package mod

import (
	"context"

	"github.com/alexisbeaulieu97/pulse/internal/events"
	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/scheduler"
)

// Host is the kernel surface a mod interacts with.
type Host interface {
	Events() *events.Bus
	Scheduler() *scheduler.Scheduler
	Logger() *logger.Logger
}

// Mod is the entry point every mod implements. Initialize runs once, after
// all required dependencies are active. Subscriptions should use the mod id
// as subscriber id so they are removed when the mod unloads.
type Mod interface {
	Initialize(ctx context.Context, host Host) error
}

// Unloader is implemented by mods that release resources on unload.
type Unloader interface {
	Unload(ctx context.Context) error
}

// Factory builds a fresh mod instance.
type Factory func() Mod

// Func adapts a function to the Mod interface.
type Func func(ctx context.Context, host Host) error

// Initialize implements Mod.
func (f Func) Initialize(ctx context.Context, host Host) error {
	return f(ctx, host)
}

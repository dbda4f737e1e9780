// Package mods registers the mods compiled into the pulse binary. Manifests
// refer to them through their entrypoint name.
package mods

import (
	"github.com/alexisbeaulieu97/pulse/internal/config"
	"github.com/alexisbeaulieu97/pulse/internal/mod"
	"github.com/alexisbeaulieu97/pulse/internal/mods/command"
	"github.com/alexisbeaulieu97/pulse/internal/mods/heartbeat"
	"github.com/alexisbeaulieu97/pulse/internal/mods/snapshot"
)

// Factories returns the built-in entrypoints configured from cfg. Each call
// to a factory creates a fresh instance.
func Factories(cfg config.ModsConfig) map[string]mod.Factory {
	return map[string]mod.Factory{
		heartbeat.ID: func() mod.Mod { return heartbeat.New(cfg.Heartbeat.Every) },
		snapshot.ID:  func() mod.Mod { return snapshot.New(cfg.Snapshot.Path, cfg.Snapshot.Every) },
		command.ID:   func() mod.Mod { return command.New(cfg.Command) },
	}
}

// Entrypoints lists the built-in entrypoint names in sorted order.
func Entrypoints() []string {
	return []string{command.ID, heartbeat.ID, snapshot.ID}
}

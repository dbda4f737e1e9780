// Package config loads runtime settings from YAML and PULSE_* environment
// variables.
package config

import "time"

// Config is the runtime configuration document.
type Config struct {
	Side            string        `yaml:"side" env:"SIDE" validate:"required,side"`
	Debug           bool          `yaml:"debug" env:"DEBUG"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error"`
	TickRate        time.Duration `yaml:"tick_rate" env:"TICK_RATE" validate:"min=1ms,max=1m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"min=1ms"`

	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Loader    LoaderConfig    `yaml:"loader" envPrefix:"LOADER_"`
	Cache     CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	Mods      ModsConfig      `yaml:"mods" envPrefix:"MODS_"`
}

// SchedulerConfig tunes the task scheduler.
type SchedulerConfig struct {
	SyncBatchSize int    `yaml:"sync_batch_size" env:"SYNC_BATCH_SIZE" validate:"min=1,max=100000"`
	AsyncWorkers  int64  `yaml:"async_workers" env:"ASYNC_WORKERS" validate:"min=1,max=1024"`
	FaultPolicy   string `yaml:"fault_policy" env:"FAULT_POLICY" validate:"required,fault_policy"`
}

// LoaderConfig tunes mod discovery and dependency resolution.
type LoaderConfig struct {
	ModsDir        string `yaml:"mods_dir" env:"MODS_DIR"`
	StrictVersions bool   `yaml:"strict_versions" env:"STRICT_VERSIONS"`
}

// CacheConfig sizes the capability cache.
type CacheConfig struct {
	Size int `yaml:"size" env:"SIZE" validate:"min=1,max=65536"`
}

// ModsConfig carries settings for the built-in mods.
type ModsConfig struct {
	Heartbeat HeartbeatConfig `yaml:"heartbeat" envPrefix:"HEARTBEAT_"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" envPrefix:"SNAPSHOT_"`
	Command   CommandConfig   `yaml:"command" envPrefix:"COMMAND_"`
}

// HeartbeatConfig controls how often the heartbeat mod logs.
type HeartbeatConfig struct {
	Every int64 `yaml:"every" env:"EVERY" validate:"min=1"`
}

// SnapshotConfig controls the snapshot mod. An empty Path disables writes.
type SnapshotConfig struct {
	Path  string `yaml:"path" env:"PATH"`
	Every int64  `yaml:"every" env:"EVERY" validate:"min=1"`
}

// CommandConfig controls the command mod. An empty Run disables it.
type CommandConfig struct {
	Run     string            `yaml:"run" env:"RUN"`
	Shell   string            `yaml:"shell" env:"SHELL"`
	WorkDir string            `yaml:"workdir" env:"WORKDIR"`
	Env     map[string]string `yaml:"env" env:"ENV"`
	Every   int64             `yaml:"every" env:"EVERY" validate:"min=1"`
	Timeout time.Duration     `yaml:"timeout" env:"TIMEOUT" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Side:            "both",
		LogLevel:        "info",
		TickRate:        50 * time.Millisecond,
		ShutdownTimeout: 10 * time.Second,
		Scheduler: SchedulerConfig{
			SyncBatchSize: 100,
			AsyncWorkers:  4,
			FaultPolicy:   "log_and_continue",
		},
		Cache: CacheConfig{Size: 256},
		Mods: ModsConfig{
			Heartbeat: HeartbeatConfig{Every: 20},
			Snapshot:  SnapshotConfig{Every: 100},
			Command:   CommandConfig{Every: 200, Timeout: 30 * time.Second},
		},
	}
}

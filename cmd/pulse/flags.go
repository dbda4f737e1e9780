package main

import (
	"io"

	"github.com/alexisbeaulieu97/pulse/internal/config"
	"github.com/alexisbeaulieu97/pulse/internal/logger"
)

// loadConfig reads the config file, if any, and applies command-line
// overrides on top of file and environment values.
func loadConfig(flags *rootFlags, modsDir, side string) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if modsDir != "" {
		cfg.Loader.ModsDir = modsDir
	}
	if side != "" {
		cfg.Side = side
	}
	if flags.verbose {
		cfg.LogLevel = "debug"
		cfg.Debug = true
	}
	return cfg, config.Validate(cfg)
}

// newLogger writes console output when w is a terminal and JSON otherwise.
func newLogger(level string, w io.Writer) (*logger.Logger, error) {
	return logger.New(logger.Options{Level: level, HumanReadable: isTerminal(w), Writer: w})
}

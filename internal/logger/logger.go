// Package logger adapts zerolog to the small nil-safe API that kernel
// components and mods log through.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

const consoleTimeFormat = "15:04:05.000"

// Options describes logger configuration supplied at creation time.
type Options struct {
	Level         string
	HumanReadable bool
	// Writer defaults to stderr so that command output on stdout stays clean.
	Writer io.Writer
	// Fields are attached to every entry.
	Fields map[string]any
}

// Logger is safe to use as a nil pointer; a nil Logger discards everything.
type Logger struct {
	zl zerolog.Logger
}

// ParseLevel maps a configured level name to a zerolog level. An empty name
// means info and "warning" is accepted as an alias.
func ParseLevel(name string) (zerolog.Level, error) {
	switch name = strings.ToLower(strings.TrimSpace(name)); name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New builds a Logger writing JSON lines, or console output when
// HumanReadable is set.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Writer
	if out == nil {
		out = os.Stderr
	}
	if opts.HumanReadable {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	keys := make([]string, 0, len(opts.Fields))
	for k := range opts.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ctx = ctx.Interface(k, opts.Fields[k])
	}
	return &Logger{zl: ctx.Logger()}, nil
}

// Nop returns a logger that discards everything but is not nil, so derived
// loggers keep working.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithFields derives a logger carrying fields, added in key order.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx := l.zl.With()
	for _, k := range keys {
		ctx = ctx.Interface(k, fields[k])
	}
	return &Logger{zl: ctx.Logger()}
}

// With derives a logger carrying one field.
func (l *Logger) With(key string, value any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// Component tags entries with the owning component name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// DebugEnabled reports whether debug entries would be written.
func (l *Logger) DebugEnabled() bool {
	return l != nil && l.zl.GetLevel() <= zerolog.DebugLevel
}

func (l *Logger) Debug(msg string) { l.write(zerolog.DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.write(zerolog.InfoLevel, msg) }
func (l *Logger) Warn(msg string)  { l.write(zerolog.WarnLevel, msg) }

// Error writes err under "error". A recovered panic is flagged with
// "panic": true, and its stack is attached when debug logging is on.
func (l *Logger) Error(err error, msg string) {
	if l == nil {
		return
	}
	event := l.zl.Error()
	if err != nil {
		event = event.Err(err)
		var panicErr *pulseerrors.PanicError
		if errors.As(err, &panicErr) {
			event = event.Bool("panic", true)
			if l.DebugEnabled() && len(panicErr.Stack) > 0 {
				event = event.Str("stack", string(panicErr.Stack))
			}
		}
	}
	event.Msg(msg)
}

func (l *Logger) write(level zerolog.Level, msg string) {
	if l == nil {
		return
	}
	l.zl.WithLevel(level).Msg(msg)
}

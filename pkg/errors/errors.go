// Package errors defines the typed failures shared across pulse packages.
// Every type unwraps to its cause so errors.Is and errors.As see through it.
package errors

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
)

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// cause is embedded by every wrapping error type.
type cause struct {
	Err error
}

func (c cause) Unwrap() error { return c.Err }

// ParseError is a manifest or config file that could not be decoded.
type ParseError struct {
	cause
	Path string
	Line int
}

// NewParseError wraps err with the file it came from. A line of 0 means
// unknown.
func NewParseError(path string, line int, err error) error {
	return &ParseError{cause: cause{Err: err}, Path: path, Line: line}
}

func (e *ParseError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	return fmt.Sprintf("parse error: %s: %v", loc, e.Err)
}

// ValidationError names the config or metadata field that was rejected.
type ValidationError struct {
	cause
	Field   string
	Message string
}

func NewValidationError(field, message string, err error) error {
	return &ValidationError{cause: cause{Err: err}, Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// ExecutionError is a fault raised by a scheduled task.
type ExecutionError struct {
	cause
	TaskID   uint64
	TaskName string
}

func NewExecutionError(taskID uint64, taskName string, err error) error {
	return &ExecutionError{cause: cause{Err: err}, TaskID: taskID, TaskName: taskName}
}

func (e *ExecutionError) Error() string {
	task := fmt.Sprintf("#%d", e.TaskID)
	if e.TaskName != "" {
		task = fmt.Sprintf("%s (#%d)", e.TaskName, e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %v", task, e.Err)
}

// ListenerError is a bus subscriber that failed while handling an event.
type ListenerError struct {
	cause
	SubscriberID string
	Event        string
}

func NewListenerError(subscriberID, event string, err error) error {
	return &ListenerError{cause: cause{Err: err}, SubscriberID: subscriberID, Event: event}
}

func (e *ListenerError) Error() string {
	subscriber := e.SubscriberID
	if subscriber == "" {
		subscriber = "unknown"
	}
	return fmt.Sprintf("listener %s failed on %s: %v", subscriber, e.Event, e.Err)
}

// HookError is a shutdown hook that returned an error or panicked.
type HookError struct {
	cause
	Hook string
}

func NewHookError(hook string, err error) error {
	return &HookError{cause: cause{Err: err}, Hook: hook}
}

func (e *HookError) Error() string {
	return fmt.Sprintf("shutdown hook %q failed: %v", e.Hook, e.Err)
}

// PanicError carries a value recovered from a panicking callback along with
// the goroutine stack at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Guard runs fn, turning a panic into a *PanicError.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// YAMLLine extracts the line number from a yaml.v3 error message, or 0.
func YAMLLine(err error) int {
	if err == nil {
		return 0
	}
	m := yamlLinePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	line, _ := strconv.Atoi(m[1])
	return line
}

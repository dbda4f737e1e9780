package mod

import (
	"fmt"
	"strings"
)

// ErrModNotFound is returned when an id does not match any known mod.
type ErrModNotFound struct {
	ID string
}

func (e ErrModNotFound) Error() string {
	return fmt.Sprintf("mod '%s' not found\nHint: ensure the mod is discovered before loading it", e.ID)
}

// ErrDuplicateMod is returned when two mods share an id.
type ErrDuplicateMod struct {
	ID string
}

func (e ErrDuplicateMod) Error() string {
	return fmt.Sprintf("mod '%s' is already registered", e.ID)
}

// ErrCircularDependency is reported for every dependency cycle. Members are
// listed in sorted order.
type ErrCircularDependency struct {
	Cycle []string
}

func (e ErrCircularDependency) Error() string {
	if len(e.Cycle) == 0 {
		return "circular dependency detected\nHint: review mod dependencies to remove cycles"
	}

	sequence := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return fmt.Sprintf(
		"circular dependency detected: %s\nHint: break the cycle by removing one of the dependencies",
		strings.Join(sequence, " -> "),
	)
}

// Contains reports whether id is a member of the cycle.
func (e ErrCircularDependency) Contains(id string) bool {
	for _, member := range e.Cycle {
		if member == id {
			return true
		}
	}
	return false
}

// ErrMissingDependency is returned when a required dependency was never discovered.
type ErrMissingDependency struct {
	Mod        string
	Dependency string
}

func (e ErrMissingDependency) Error() string {
	return fmt.Sprintf(
		"mod '%s' requires '%s' which was not discovered\nHint: install the dependency or mark it optional",
		e.Mod,
		e.Dependency,
	)
}

// ErrDependencyFailed marks a mod that cannot load because something it
// depends on, directly or transitively, failed.
type ErrDependencyFailed struct {
	Mod        string
	Dependency string
	Cause      error
}

func (e ErrDependencyFailed) Error() string {
	return fmt.Sprintf("mod '%s' cannot load: dependency '%s' failed: %v", e.Mod, e.Dependency, e.Cause)
}

func (e ErrDependencyFailed) Unwrap() error {
	return e.Cause
}

// ErrVersionConflict captures a dependency whose version does not satisfy the
// declared constraint.
type ErrVersionConflict struct {
	Mod           string
	Dependency    string
	Constraint    string
	ActualVersion string
}

func (e ErrVersionConflict) Error() string {
	return fmt.Sprintf(
		"mod '%s' requires '%s' %s but found %s\nHint: align mod versions or relax the constraint",
		e.Mod,
		e.Dependency,
		e.Constraint,
		e.ActualVersion,
	)
}

// ErrConflict is returned when a mod declares a conflict with another
// discovered mod.
type ErrConflict struct {
	Mod  string
	With string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("mod '%s' conflicts with '%s'\nHint: remove one of the two mods", e.Mod, e.With)
}

// ErrInjectionFailed wraps a rejected injection configuration.
type ErrInjectionFailed struct {
	Mod    string
	Config string
	Err    error
}

func (e ErrInjectionFailed) Error() string {
	return fmt.Sprintf("mod '%s': injection config '%s' rejected: %v", e.Mod, e.Config, e.Err)
}

func (e ErrInjectionFailed) Unwrap() error {
	return e.Err
}

// ErrInitFailed wraps an error returned or panicked by Mod.Initialize.
type ErrInitFailed struct {
	Mod string
	Err error
}

func (e ErrInitFailed) Error() string {
	return fmt.Sprintf("mod '%s' failed to initialize: %v", e.Mod, e.Err)
}

func (e ErrInitFailed) Unwrap() error {
	return e.Err
}

// ErrInvalidTransition is returned for a state change the lifecycle forbids.
type ErrInvalidTransition struct {
	Mod  string
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("mod '%s': invalid state transition %s -> %s", e.Mod, e.From, e.To)
}

// ErrHasDependents is returned when unloading a mod that active mods still require.
type ErrHasDependents struct {
	Mod        string
	Dependents []string
}

func (e ErrHasDependents) Error() string {
	return fmt.Sprintf(
		"mod '%s' is required by %s\nHint: unload the dependents first",
		e.Mod,
		strings.Join(e.Dependents, ", "),
	)
}

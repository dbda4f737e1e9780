package events

import "sync/atomic"

// Event is anything the bus can deliver. Concrete events embed Base and are
// published by pointer, so listeners share one instance per publish call and
// see each other's mutations in subscription order.
type Event interface {
	// EventName is a stable label used in logs and metrics.
	EventName() string
	// Cancellable is fixed when the event is constructed.
	Cancellable() bool
	// Cancelled reports whether a listener has cancelled the event.
	Cancelled() bool
	// Cancel marks the event cancelled. It returns false, and changes
	// nothing, when the event is not cancellable.
	Cancel() bool
}

// Base implements Event. Once set, the cancelled flag is never cleared.
type Base struct {
	name        string
	cancellable bool
	cancelled   int32
}

// NewBase returns a Base for embedding in a concrete event.
func NewBase(name string, cancellable bool) Base {
	return Base{name: name, cancellable: cancellable}
}

// EventName implements Event.
func (b *Base) EventName() string { return b.name }

// Cancellable implements Event.
func (b *Base) Cancellable() bool { return b.cancellable }

// Cancelled implements Event.
func (b *Base) Cancelled() bool { return atomic.LoadInt32(&b.cancelled) == 1 }

// Cancel implements Event.
func (b *Base) Cancel() bool {
	if !b.cancellable {
		return false
	}
	atomic.StoreInt32(&b.cancelled, 1)
	return true
}

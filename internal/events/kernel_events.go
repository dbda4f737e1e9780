package events

// TickPhase distinguishes the two events published around each heartbeat.
type TickPhase string

const (
	TickStart TickPhase = "start"
	TickEnd   TickPhase = "end"
)

// TickEvent is published by the kernel at the start and end of every heartbeat.
type TickEvent struct {
	Base
	Tick  int64
	Phase TickPhase
}

// NewTickEvent creates a non-cancellable tick event.
func NewTickEvent(tick int64, phase TickPhase) *TickEvent {
	return &TickEvent{Base: NewBase("Tick", false), Tick: tick, Phase: phase}
}

// ModStateEvent reports a mod lifecycle transition.
type ModStateEvent struct {
	Base
	ModID string
	From  string
	To    string
	Err   error
}

// NewModStateEvent creates a non-cancellable mod state event.
func NewModStateEvent(modID, from, to string, err error) *ModStateEvent {
	return &ModStateEvent{Base: NewBase("ModState", false), ModID: modID, From: from, To: to, Err: err}
}

// ShutdownEvent is published once, as the first step of kernel teardown.
type ShutdownEvent struct {
	Base
}

// NewShutdownEvent creates a non-cancellable shutdown event.
func NewShutdownEvent() *ShutdownEvent {
	return &ShutdownEvent{Base: NewBase("Shutdown", false)}
}

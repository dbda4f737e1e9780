package events

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

// Listener handles one delivered event. A returned error or a panic is
// logged and counted; it never reaches the publisher or other listeners.
type Listener func(ctx context.Context, event Event) error

// Delivery summarises one Publish call.
type Delivery struct {
	Listeners int
	Faults    int
	Cancelled bool
}

type subscription struct {
	id           uint64
	eventType    reflect.Type
	subscriberID string
	listener     Listener
}

// registry is never mutated after it has been stored in Bus.snapshot.
type registry map[reflect.Type][]*subscription

// Bus is a typed, synchronous publish/subscribe registry.
//
// Writers serialise on mu and install a fresh copy-on-write snapshot, so
// Publish iterates without locks and is never disturbed by a concurrent
// Subscribe or UnsubscribeAll. Listeners run in subscription order on the
// publishing goroutine. Cancellation is advisory: a cancelled event is still
// delivered to every remaining listener.
type Bus struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[registry]
	nextID   atomic.Uint64
	debug    atomic.Bool

	published atomic.Uint64
	faults    atomic.Uint64

	log     *logger.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(log *logger.Logger) Option {
	return func(b *Bus) { b.log = log.Component("eventbus") }
}

// WithMetrics records publish and fault counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithTracer overrides the tracer used for publish spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bus) { b.tracer = t }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{tracer: telemetry.Tracer(nil)}
	for _, opt := range opts {
		opt(b)
	}
	empty := registry{}
	b.snapshot.Store(&empty)
	return b
}

// TypeOf returns the registry key for event type E.
func TypeOf[E Event]() reflect.Type {
	return reflect.TypeFor[E]()
}

// Subscribe registers listener for events of type E under subscriberID.
func Subscribe[E Event](b *Bus, subscriberID string, listener func(context.Context, E) error) *Subscription {
	return b.Subscribe(TypeOf[E](), subscriberID, func(ctx context.Context, event Event) error {
		return listener(ctx, event.(E))
	})
}

// Subscribe registers listener for eventType under subscriberID. Duplicate
// registrations are allowed and each one fires.
func (b *Bus) Subscribe(eventType reflect.Type, subscriberID string, listener Listener) *Subscription {
	sub := &subscription{
		id:           b.nextID.Add(1),
		eventType:    eventType,
		subscriberID: subscriberID,
		listener:     listener,
	}

	b.mu.Lock()
	current := *b.snapshot.Load()
	next := make(registry, len(current)+1)
	for typ, subs := range current {
		next[typ] = subs
	}
	list := make([]*subscription, 0, len(current[eventType])+1)
	list = append(list, current[eventType]...)
	next[eventType] = append(list, sub)
	b.snapshot.Store(&next)
	b.mu.Unlock()

	if b.debug.Load() {
		b.log.WithFields(map[string]any{
			"event_type":    eventType.String(),
			"subscriber_id": subscriberID,
		}).Debug("listener subscribed")
	}

	return &Subscription{bus: b, id: sub.id, eventType: eventType}
}

// UnsubscribeAll removes every subscription owned by subscriberID across all
// event types in a single snapshot swap. Unknown ids are a no-op.
func (b *Bus) UnsubscribeAll(subscriberID string) int {
	removed := b.rewrite(func(sub *subscription) bool {
		return sub.subscriberID == subscriberID
	})
	if removed > 0 {
		b.log.WithFields(map[string]any{
			"subscriber_id": subscriberID,
			"removed":       removed,
		}).Info("unsubscribed listeners")
	}
	return removed
}

// ClearType removes every subscription for one event type.
func (b *Bus) ClearType(eventType reflect.Type) int {
	return b.rewrite(func(sub *subscription) bool {
		return sub.eventType == eventType
	})
}

// ClearAll removes every subscription.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	empty := registry{}
	b.snapshot.Store(&empty)
	b.mu.Unlock()
}

// SetDebug toggles verbose per-publish logging.
func (b *Bus) SetDebug(enabled bool) {
	b.debug.Store(enabled)
}

// ListenerCount reports how many subscriptions exist for eventType.
func (b *Bus) ListenerCount(eventType reflect.Type) int {
	return len((*b.snapshot.Load())[eventType])
}

// Publish delivers event to every listener registered for its concrete type.
func (b *Bus) Publish(ctx context.Context, event Event) Delivery {
	if event == nil {
		return Delivery{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name := event.EventName()
	subs := (*b.snapshot.Load())[reflect.TypeOf(event)]

	ctx, span := b.tracer.Start(ctx, "eventbus.publish", trace.WithAttributes(
		attribute.String("event", name),
		attribute.Int("listeners", len(subs)),
	))
	defer span.End()

	b.published.Add(1)
	b.metrics.EventPublished(name)

	debug := b.debug.Load()
	if debug {
		b.log.WithFields(map[string]any{
			"event":     name,
			"listeners": len(subs),
		}).Debug("publishing event")
	}

	delivery := Delivery{Listeners: len(subs)}
	for _, sub := range subs {
		err := pulseerrors.Guard(func() error {
			return sub.listener(ctx, event)
		})
		if err == nil {
			continue
		}

		delivery.Faults++
		b.faults.Add(1)
		b.metrics.ListenerFault(name, sub.subscriberID)
		span.RecordError(err)
		b.log.WithFields(map[string]any{
			"event":         name,
			"subscriber_id": sub.subscriberID,
		}).Error(pulseerrors.NewListenerError(sub.subscriberID, name, err), "listener failed")
	}

	delivery.Cancelled = event.Cancelled()
	if delivery.Faults > 0 {
		span.SetStatus(codes.Error, "listener faults")
	}
	if debug && delivery.Cancelled {
		b.log.With("event", name).Debug("event cancelled")
	}
	return delivery
}

// Status implements telemetry.StatusProvider.
func (b *Bus) Status() map[string]any {
	snap := *b.snapshot.Load()
	total := 0
	for _, subs := range snap {
		total += len(subs)
	}
	return map[string]any{
		"event_types":     len(snap),
		"subscriptions":   total,
		"published":       b.published.Load(),
		"listener_faults": b.faults.Load(),
		"debug":           b.debug.Load(),
	}
}

// Summary implements telemetry.StatusProvider.
func (b *Bus) Summary() string {
	return telemetry.FormatSummary("eventbus", b.Status())
}

// rewrite drops every subscription matching drop and returns how many were removed.
func (b *Bus) rewrite(drop func(*subscription) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.snapshot.Load()
	next := make(registry, len(current))
	removed := 0
	for typ, subs := range current {
		kept := make([]*subscription, 0, len(subs))
		for _, sub := range subs {
			if drop(sub) {
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) > 0 {
			next[typ] = kept
		}
	}
	if removed > 0 {
		b.snapshot.Store(&next)
	}
	return removed
}

// Subscription is a handle to one registered listener.
type Subscription struct {
	bus       *Bus
	id        uint64
	eventType reflect.Type
}

// Unsubscribe removes this listener. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.rewrite(func(sub *subscription) bool {
		return sub.id == s.id
	})
}

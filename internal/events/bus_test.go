package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/alexisbeaulieu97/pulse/internal/logger"
	"github.com/alexisbeaulieu97/pulse/internal/telemetry"
)

type chatEvent struct {
	Base
	Sender  string
	Message string
}

func newChatEvent(sender, message string) *chatEvent {
	return &chatEvent{Base: NewBase("ChatMessage", true), Sender: sender, Message: message}
}

type pingEvent struct {
	Base
}

func newPingEvent() *pingEvent {
	return &pingEvent{Base: NewBase("Ping", false)}
}

func TestPublishInvokesListenersInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	bus := New()
	var order []string
	for _, name := range []string{"L1", "L2", "L3"} {
		name := name
		Subscribe(bus, "mod-"+name, func(_ context.Context, e *chatEvent) error {
			order = append(order, name)
			return nil
		})
	}

	delivery := bus.Publish(context.Background(), newChatEvent("alice", "hi"))
	assert.Equal(t, []string{"L1", "L2", "L3"}, order)
	assert.Equal(t, 3, delivery.Listeners)
	assert.Zero(t, delivery.Faults)
}

func TestPublishIsolatesFailingListener(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fail func() error
	}{
		{name: "returned error", fail: func() error { return errors.New("boom") }},
		{name: "panic", fail: func() error { panic("boom") }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := &bytes.Buffer{}
			log, err := logger.New(logger.Options{Level: "info", Writer: buf})
			require.NoError(t, err)
			metrics := telemetry.NewMetrics()
			bus := New(WithLogger(log), WithMetrics(metrics))

			var l1, l3 bool
			Subscribe(bus, "first", func(_ context.Context, _ *chatEvent) error { l1 = true; return nil })
			Subscribe(bus, "broken", func(_ context.Context, _ *chatEvent) error { return tc.fail() })
			Subscribe(bus, "third", func(_ context.Context, _ *chatEvent) error { l3 = true; return nil })

			var delivery Delivery
			require.NotPanics(t, func() {
				delivery = bus.Publish(context.Background(), newChatEvent("bob", "x"))
			})

			assert.True(t, l1)
			assert.True(t, l3)
			assert.Equal(t, 1, delivery.Faults)

			var entry map[string]any
			line := strings.TrimSpace(buf.String())
			require.NoError(t, json.Unmarshal([]byte(line), &entry))
			assert.Equal(t, "broken", entry["subscriber_id"])
			assert.Equal(t, "ChatMessage", entry["event"])
			assert.Equal(t, "eventbus", entry["component"])

			series, err := testutil.GatherAndCount(metrics.Registry(), "pulse_listener_faults_total")
			require.NoError(t, err)
			assert.Equal(t, 1, series)
		})
	}
}

func TestCancellationIsAdvisory(t *testing.T) {
	t.Parallel()

	bus := New()
	var sawCancelled bool
	Subscribe(bus, "filter", func(_ context.Context, e *chatEvent) error {
		assert.True(t, e.Cancel())
		return nil
	})
	Subscribe(bus, "audit", func(_ context.Context, e *chatEvent) error {
		sawCancelled = e.Cancelled()
		return nil
	})

	delivery := bus.Publish(context.Background(), newChatEvent("eve", "spam"))
	assert.True(t, sawCancelled, "later listeners still run and observe the flag")
	assert.True(t, delivery.Cancelled)
	assert.Equal(t, 2, delivery.Listeners)
}

func TestNonCancellableEventIgnoresCancel(t *testing.T) {
	t.Parallel()

	e := newPingEvent()
	assert.False(t, e.Cancellable())
	assert.False(t, e.Cancel())
	assert.False(t, e.Cancelled())

	chat := newChatEvent("a", "b")
	assert.True(t, chat.Cancel())
	assert.True(t, chat.Cancel())
	assert.True(t, chat.Cancelled(), "cancelled flag is never cleared")
}

func TestMutationsFlowThroughPipeline(t *testing.T) {
	t.Parallel()

	bus := New()
	Subscribe(bus, "upper", func(_ context.Context, e *chatEvent) error {
		e.Message = strings.ToUpper(e.Message)
		return nil
	})
	var seen string
	Subscribe(bus, "reader", func(_ context.Context, e *chatEvent) error {
		seen = e.Message
		return nil
	})

	event := newChatEvent("carol", "hello")
	bus.Publish(context.Background(), event)
	assert.Equal(t, "HELLO", seen)
	assert.Equal(t, "HELLO", event.Message)
}

func TestUnsubscribeAllIsScopedToSubscriber(t *testing.T) {
	t.Parallel()

	bus := New()
	calls := map[string]int{}
	record := func(id string) func(context.Context, *chatEvent) error {
		return func(context.Context, *chatEvent) error { calls[id]++; return nil }
	}
	Subscribe(bus, "alpha", record("alpha"))
	Subscribe(bus, "alpha", record("alpha"))
	Subscribe(bus, "beta", record("beta"))
	Subscribe(bus, "alpha", func(context.Context, *pingEvent) error { calls["alpha-ping"]++; return nil })

	assert.Equal(t, 3, bus.UnsubscribeAll("alpha"))
	assert.Zero(t, bus.UnsubscribeAll("alpha"), "repeat is a no-op")
	assert.Zero(t, bus.UnsubscribeAll("unknown"))

	bus.Publish(context.Background(), newChatEvent("x", "y"))
	bus.Publish(context.Background(), newPingEvent())

	assert.Equal(t, map[string]int{"beta": 1}, calls)
}

func TestDuplicateSubscriptionsBothFire(t *testing.T) {
	t.Parallel()

	bus := New()
	count := 0
	listener := func(context.Context, *pingEvent) error { count++; return nil }
	Subscribe(bus, "dup", listener)
	Subscribe(bus, "dup", listener)

	bus.Publish(context.Background(), newPingEvent())
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, bus.ListenerCount(TypeOf[*pingEvent]()))
}

func TestSubscriptionUnsubscribeRemovesOnlyItself(t *testing.T) {
	t.Parallel()

	bus := New()
	var got []string
	first := Subscribe(bus, "m", func(context.Context, *pingEvent) error { got = append(got, "first"); return nil })
	Subscribe(bus, "m", func(context.Context, *pingEvent) error { got = append(got, "second"); return nil })

	first.Unsubscribe()
	first.Unsubscribe()
	bus.Publish(context.Background(), newPingEvent())
	assert.Equal(t, []string{"second"}, got)
}

func TestClearAllAndClearType(t *testing.T) {
	t.Parallel()

	bus := New()
	Subscribe(bus, "a", func(context.Context, *pingEvent) error { return nil })
	Subscribe(bus, "a", func(context.Context, *chatEvent) error { return nil })

	assert.Equal(t, 1, bus.ClearType(TypeOf[*pingEvent]()))
	assert.Zero(t, bus.ListenerCount(TypeOf[*pingEvent]()))
	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*chatEvent]()))

	bus.ClearAll()
	assert.Zero(t, bus.ListenerCount(TypeOf[*chatEvent]()))
	assert.Equal(t, Delivery{}, bus.Publish(context.Background(), newPingEvent()))
}

func TestPublishNilEvent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Delivery{}, New().Publish(context.Background(), nil))
}

func TestDebugDoesNotChangeDelivery(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := logger.New(logger.Options{Level: "debug", Writer: buf})
	require.NoError(t, err)
	bus := New(WithLogger(log))
	bus.SetDebug(true)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		Subscribe(bus, fmt.Sprintf("m%d", i), func(context.Context, *chatEvent) error {
			order = append(order, i)
			if i == 1 {
				return errors.New("fault")
			}
			return nil
		})
	}

	delivery := bus.Publish(context.Background(), newChatEvent("d", "e"))
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, 1, delivery.Faults)
	assert.Contains(t, buf.String(), "publishing event")
	assert.Equal(t, true, bus.Status()["debug"])
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	bus := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		id := fmt.Sprintf("mod-%d", i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Subscribe(bus, id, func(context.Context, *pingEvent) error { return nil })
			}
			bus.UnsubscribeAll(id)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(context.Background(), newPingEvent())
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, bus.ListenerCount(TypeOf[*pingEvent]()))
	assert.Equal(t, uint64(400), bus.Status()["published"])
}

func TestPublishRecordsSpan(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	bus := New(WithTracer(telemetry.Tracer(provider)))
	Subscribe(bus, "x", func(context.Context, *pingEvent) error { return errors.New("nope") })

	bus.Publish(context.Background(), newPingEvent())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "eventbus.publish", spans[0].Name())
	assert.Len(t, spans[0].Events(), 1, "listener fault recorded on span")
}

func TestSummary(t *testing.T) {
	t.Parallel()

	bus := New()
	Subscribe(bus, "x", func(context.Context, *pingEvent) error { return nil })
	assert.Equal(t, "eventbus: debug=false, event_types=1, listener_faults=0, published=0, subscriptions=1", bus.Summary())
}

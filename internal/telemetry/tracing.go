package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans emitted by the kernel.
const InstrumentationName = "github.com/alexisbeaulieu97/pulse"

// Tracer returns a tracer from provider, falling back to the global provider.
// Span nesting is carried by the context passed to Start, never by
// goroutine-local state.
func Tracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		return otel.Tracer(InstrumentationName)
	}
	return provider.Tracer(InstrumentationName)
}

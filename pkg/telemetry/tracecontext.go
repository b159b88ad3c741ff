package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// traceContext is the W3C propagator used for evidence-event trace
// fields. Events carry traceparent/tracestate as plain strings on the
// wire; these helpers round-trip them through the real propagator
// instead of treating them as opaque.
var traceContext = propagation.TraceContext{}

type pairCarrier struct {
	traceParent string
	traceState  string
}

func (c *pairCarrier) Get(key string) string {
	switch key {
	case "traceparent":
		return c.traceParent
	case "tracestate":
		return c.traceState
	}
	return ""
}

func (c *pairCarrier) Set(key, value string) {
	switch key {
	case "traceparent":
		c.traceParent = value
	case "tracestate":
		c.traceState = value
	}
}

func (c *pairCarrier) Keys() []string { return []string{"traceparent", "tracestate"} }

// ExtractTraceContext returns ctx extended with the span context an
// event's traceparent/tracestate fields describe. An invalid or empty
// traceparent leaves ctx unchanged.
func ExtractTraceContext(ctx context.Context, traceParent, traceState string) context.Context {
	return traceContext.Extract(ctx, &pairCarrier{traceParent: traceParent, traceState: traceState})
}

// InjectTraceContext serializes ctx's current span context into the
// traceparent/tracestate pair an evidence event carries. Both strings
// are empty when ctx holds no valid span.
func InjectTraceContext(ctx context.Context) (traceParent, traceState string) {
	c := &pairCarrier{}
	traceContext.Inject(ctx, c)
	return c.traceParent, c.traceState
}

// ValidTraceParent reports whether tp parses as a W3C traceparent
// header with a valid trace and span id.
func ValidTraceParent(tp string) bool {
	if tp == "" {
		return false
	}
	ctx := traceContext.Extract(context.Background(), &pairCarrier{traceParent: tp})
	return trace.SpanContextFromContext(ctx).IsValid()
}

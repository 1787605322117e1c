package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Injector serializes the span context of ctx into a fresh carrier.
type Injector struct {
	propagator propagation.TextMapPropagator
}

// NewInjector uses p, or the global propagator when p is nil.
func NewInjector(p propagation.TextMapPropagator) Injector {
	return Injector{propagator: p}
}

// Inject returns a new carrier on every call.
func (i Injector) Inject(ctx context.Context) map[string]string {
	p := i.propagator
	if p == nil {
		p = otel.GetTextMapPropagator()
	}
	carrier := propagation.MapCarrier{}
	p.Inject(ctx, carrier)
	return carrier
}

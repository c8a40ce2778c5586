// Package telemetry provides OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// TracerName is the instrumentation scope for spans started by this module.
const TracerName = "github.com/JakeFAU/engagement-analytics"

// Propagator returns the W3C trace-context and baggage propagator used at the
// HTTP edge.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// NewTracerProvider builds a tracer provider tagged with serviceName that
// samples sampleRatio of root spans and follows the parent's decision
// otherwise. Span processors and exporters are supplied through opts; with
// none the provider still creates and propagates span contexts.
func NewTracerProvider(ctx context.Context, serviceName string, sampleRatio float64, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("tracing service name is required")
	}
	if sampleRatio < 0 || sampleRatio > 1 {
		return nil, fmt.Errorf("tracing sample ratio %v outside [0, 1]", sampleRatio)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	}
	return sdktrace.NewTracerProvider(append(base, opts...)...), nil
}

package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/fluxorio/blockflow"

var (
	globalTracer   trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	mu             sync.RWMutex
	initialized    bool
)

// Initialize initializes OpenTelemetry with the given configuration
func Initialize(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry config: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return fmt.Errorf("OpenTelemetry already initialized")
	}

	// Create resource
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(config)
	if err != nil {
		return err
	}

	// Create tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Set global propagator
	otel.SetTextMapPropagator(propagator)

	globalTracer = tp.Tracer(instrumentationName)
	tracerProvider = tp
	initialized = true
	return nil
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if globalTracer == nil {
		// Return noop tracer if not initialized
		return noop.NewTracerProvider().Tracer("noop")
	}
	return globalTracer
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext extracts a span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// IsInitialized returns whether OpenTelemetry has been initialized
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// Shutdown flushes pending spans and shuts down the tracer provider.
// Initialize may be called again afterwards.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return nil
	}

	err := tracerProvider.Shutdown(ctx)
	globalTracer = nil
	tracerProvider = nil
	initialized = false
	return err
}

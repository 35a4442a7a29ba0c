// Package tracing wires the compression core's background operations
// (encode/decode, trainer iterations, GC reclaims, routing scans,
// directory-watch reloads, bootstrap) to OpenTelemetry via a Jaeger
// exporter. Every helper here is safe to call against the default
// no-op global tracer provider, so engine/trainer/gc/hostenv code never
// needs a nil check to stay testable without a live collector.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	serviceName    = "cachecomp"
	serviceVersion = "1.0.0"
)

var (
	tracerProvider *tracesdk.TracerProvider
	log            = zap.NewNop()
)

// SetLogger installs the logger InitTracing reports its outcome
// through. Following the rest of this tree's constructor idiom, a nil
// logger falls back to a no-op one rather than panicking; callers that
// never call SetLogger simply get silent tracing setup.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	log = l
}

// InitTracing initializes OpenTelemetry tracing with Jaeger.
func InitTracing(jaegerEndpoint string) error {
	if jaegerEndpoint == "" {
		jaegerEndpoint = "http://jaeger:14268/api/traces"
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("component", "dictionary-lifecycle"),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)

	log.Info("jaeger tracing initialized", zap.String("endpoint", jaegerEndpoint))
	return nil
}

// Shutdown gracefully shuts down the tracer provider.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// Span name constants for the core's background operations, used so
// callers don't restate string literals at each call site.
const (
	SpanEncode           = "encode"
	SpanDecode           = "decode"
	SpanTrainerIteration = "trainer.iteration"
	SpanDictPublish      = "trainer.publish"
	SpanGCReclaim        = "gc.reclaim"
	SpanRoutingScan      = "routing.scan"
	SpanWatchReload      = "hostenv.watch_reload"
	SpanBootstrap        = "cachecomp.bootstrap"
)

// DictAttributes builds the common set of span attributes a
// dictionary-lifecycle span wants: which dictionary id and table
// generation it was operating against.
func DictAttributes(dictID uint16, generation uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("dict.id", int(dictID)),
		attribute.Int64("table.generation", int64(generation)),
	}
}

// GetTracer returns a tracer for the given component.
func GetTracer(component string) trace.Tracer {
	return otel.Tracer(fmt.Sprintf("%s/%s", serviceName, component))
}

// StartSpan creates a new span with the given attributes already set.
func StartSpan(ctx context.Context, tracer trace.Tracer, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, operationName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// AddSpanAttributes adds attributes to the current span.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordError records an error in the current span.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}

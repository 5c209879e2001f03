// Package telemetry configures OpenTelemetry tracing for the alert engine.
//
// Custom span attributes use the `klaxon.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fleetworks.io/klaxon"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("klaxond"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartScanSpan creates the parent span for one auto-close scanner pass.
func StartScanSpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "scanner.pass",
		trace.WithAttributes(
			attribute.String("klaxon.job_id", jobID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartEscalationSpan creates a child span for an escalation check.
func StartEscalationSpan(ctx context.Context, alertID, sourceType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.check_escalation",
		trace.WithAttributes(
			attribute.String("klaxon.alert_id", alertID),
			attribute.String("klaxon.source_type", sourceType),
		),
	)
}

// StartAutoCloseSpan creates a child span for an auto-close evaluation.
func StartAutoCloseSpan(ctx context.Context, alertID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.check_auto_close",
		trace.WithAttributes(
			attribute.String("klaxon.alert_id", alertID),
		),
	)
}

// EndScanSpan enriches the scan span with pass results.
func EndScanSpan(span trace.Span, checked, closed, errs int) {
	span.SetAttributes(
		attribute.Int("klaxon.alerts_checked", checked),
		attribute.Int("klaxon.alerts_closed", closed),
		attribute.Int("klaxon.errors", errs),
	)
	span.End()
}

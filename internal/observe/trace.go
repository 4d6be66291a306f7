package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all VoiceGuard spans.
const tracerName = "github.com/frostbyte-ai/voiceguard"

// Tracer returns the VoiceGuard tracer from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named name. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartPrediction opens a span covering one detector invocation. source is
// the ingest surface ("session", "call" or "voip") and samples the window
// length handed to the model.
func StartPrediction(ctx context.Context, source string, samples int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "detector.predict",
		trace.WithAttributes(
			attribute.String("source", source),
			attribute.Int("window.samples", samples),
		),
	)
}

// CorrelationID returns the trace ID of the active span in ctx, or the empty
// string when there is none. It doubles as the correlation identifier in log
// output and the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default [slog.Logger] annotated with the trace and span
// IDs from ctx, so stream handlers emit log lines that correlate with the
// request span. Without an active span it is the plain default logger.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

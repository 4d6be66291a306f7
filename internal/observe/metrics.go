// Package observe provides application-wide observability primitives for
// VoiceGuard: OpenTelemetry metrics, tracing helpers, and structured-logging
// glue.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoiceGuard metrics.
const meterName = "github.com/frostbyte-ai/voiceguard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// InferenceDuration tracks detector prediction latency. Use with
	// attribute.String("source", "session"|"call"|"voip").
	InferenceDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksIngested counts audio chunks accepted into a sliding window.
	// Use with attribute.String("source", ...).
	ChunksIngested metric.Int64Counter

	// ChunksDropped counts malformed chunks discarded at the decode edge.
	ChunksDropped metric.Int64Counter

	// Predictions counts detector verdicts. Use with attributes:
	//   attribute.String("source", ...), attribute.String("label", ...)
	Predictions metric.Int64Counter

	// DetectorErrors counts predictions that degraded to the ERROR sentinel.
	DetectorErrors metric.Int64Counter

	// BroadcastDrops counts listeners removed from the hub after a failed
	// delivery.
	BroadcastDrops metric.Int64Counter

	// SignalsRelayed counts signaling messages relayed between room peers.
	SignalsRelayed metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live analysis sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRooms tracks the number of call rooms with at least one peer.
	ActiveRooms metric.Int64UpDownCounter

	// ActiveParticipants tracks the number of connected call peers across
	// all rooms.
	ActiveParticipants metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("voiceguard.inference.duration",
		metric.WithDescription("Latency of detector predictions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksIngested, err = m.Int64Counter("voiceguard.chunks.ingested",
		metric.WithDescription("Total audio chunks accepted into sliding windows by source."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voiceguard.chunks.dropped",
		metric.WithDescription("Total malformed audio chunks discarded at the decode edge."),
	); err != nil {
		return nil, err
	}
	if met.Predictions, err = m.Int64Counter("voiceguard.predictions",
		metric.WithDescription("Total detector verdicts by source and label."),
	); err != nil {
		return nil, err
	}
	if met.DetectorErrors, err = m.Int64Counter("voiceguard.detector.errors",
		metric.WithDescription("Total predictions degraded to the ERROR sentinel."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastDrops, err = m.Int64Counter("voiceguard.broadcast.drops",
		metric.WithDescription("Total listeners dropped from the broadcast hub after failed sends."),
	); err != nil {
		return nil, err
	}
	if met.SignalsRelayed, err = m.Int64Counter("voiceguard.signals.relayed",
		metric.WithDescription("Total signaling messages relayed between room peers."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceguard.active_sessions",
		metric.WithDescription("Number of live analysis sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRooms, err = m.Int64UpDownCounter("voiceguard.active_rooms",
		metric.WithDescription("Number of call rooms with at least one peer."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("voiceguard.active_participants",
		metric.WithDescription("Number of connected call peers across all rooms."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceguard.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordPrediction records one detector verdict: the latency histogram, the
// per-label counter, and the error counter when the verdict is the ERROR
// sentinel.
func (m *Metrics) RecordPrediction(ctx context.Context, source, label string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("label", label),
	)
	m.InferenceDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("source", source)))
	m.Predictions.Add(ctx, 1, attrs)
	if label == "ERROR" {
		m.DetectorErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("source", source)))
	}
}

// RecordChunk records one accepted audio chunk for source.
func (m *Metrics) RecordChunk(ctx context.Context, source string) {
	m.ChunksIngested.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)))
}

// RecordDroppedChunk records one malformed or unusable audio chunk for source.
func (m *Metrics) RecordDroppedChunk(ctx context.Context, source string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)))
}

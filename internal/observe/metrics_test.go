package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordPrediction_RecordsHistogramAndCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPrediction(ctx, "session", "FAKE", 120*time.Millisecond)
	m.RecordPrediction(ctx, "voip", "REAL", 80*time.Millisecond)

	rm := collect(t, reader)

	hist := findMetric(rm, "voiceguard.inference.duration")
	if hist == nil {
		t.Fatal("inference duration histogram not recorded")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("histogram count = %d, want 2", count)
	}

	preds := findMetric(rm, "voiceguard.predictions")
	if preds == nil {
		t.Fatal("predictions counter not recorded")
	}
}

func TestRecordPrediction_ErrorLabelIncrementsErrorCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPrediction(ctx, "call", "ERROR", 10*time.Millisecond)

	rm := collect(t, reader)
	errs := findMetric(rm, "voiceguard.detector.errors")
	if errs == nil {
		t.Fatal("detector errors counter not recorded")
	}
	sum, ok := errs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", errs.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 1 {
		t.Errorf("detector errors = %d, want 1", total)
	}
}

func TestGauges_UpAndDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	g := findMetric(rm, "voiceguard.active_sessions")
	if g == nil {
		t.Fatal("active sessions gauge not recorded")
	}
	sum, ok := g.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", g.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 1 {
		t.Errorf("active sessions = %d, want 1", total)
	}
}

func TestRecordChunk(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunk(ctx, "voip")
	m.RecordChunk(ctx, "voip")

	rm := collect(t, reader)
	c := findMetric(rm, "voiceguard.chunks.ingested")
	if c == nil {
		t.Fatal("chunks counter not recorded")
	}
	sum, ok := c.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", c.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("chunks = %d, want 2", total)
	}
}

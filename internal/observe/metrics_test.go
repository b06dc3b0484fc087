package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumFor returns the value of the int64 sum data point whose attributes
// include all of want.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		matched := true
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v != kv.Value {
				matched = false
				break
			}
		}
		if matched {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %v", name, want)
	return 0
}

func TestObserveProvider(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ObserveProvider(ctx, "transcribe", "deepgram", 300*time.Millisecond, errors.New("503"))
	m.ObserveProvider(ctx, "transcribe", "openai", 200*time.Millisecond, nil)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "clinic.provider.requests",
		attribute.String("provider", "openai"), attribute.String("status", "ok")); got != 1 {
		t.Errorf("openai ok requests = %d, want 1", got)
	}
	if got := sumFor(t, rm, "clinic.provider.errors", attribute.String("provider", "deepgram")); got != 1 {
		t.Errorf("deepgram errors = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "clinic.provider.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 2 {
		t.Fatalf("provider duration data points = %+v", hist.DataPoints)
	}
}

func TestRecordTurnAndFallback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "simple_contradiction", false, time.Second)
	m.RecordTurn(ctx, "simple_contradiction", true, 2*time.Second)
	m.RecordTurnError(ctx, "transcription_failed")
	m.RecordFallback(ctx, "synthesize", "openai")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "clinic.turns", attribute.String("node", "simple_contradiction")); got != 2 {
		t.Errorf("turns = %d, want 2", got)
	}
	if got := sumFor(t, rm, "clinic.turn.errors", attribute.String("reason", "transcription_failed")); got != 1 {
		t.Errorf("turn errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "clinic.fallback.used", attribute.String("provider", "openai")); got != 1 {
		t.Errorf("fallback used = %d, want 1", got)
	}
}

func TestSessionGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx, 2)
	m.SessionClosed(ctx, 0)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "clinic.sessions.active"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	if got := sumFor(t, rm, "clinic.sessions.created"); got != 3 {
		t.Errorf("sessions created = %d, want 3", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}

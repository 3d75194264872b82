package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader so a
// test can read back exactly what was recorded.
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

// snapshot collects every recorded metric and indexes it by name.
func snapshot(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	byName := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			byName[met.Name] = met
		}
	}
	return byName
}

// counterValue returns the value of the data point on a sum metric whose
// attributes contain key=value.
func counterValue(t *testing.T, snap map[string]metricdata.Metrics, name, key, value string) int64 {
	t.Helper()
	met, ok := snap[name]
	if !ok {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

// sumValue returns the single data point value on an attribute-less sum.
func sumValue(t *testing.T, snap map[string]metricdata.Metrics, name string) int64 {
	t.Helper()
	met, ok := snap[name]
	if !ok {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatalf("metric %q has no data points", name)
	}
	return sum.DataPoints[0].Value
}

// histogramCount returns the sample count of the first data point on a
// histogram metric.
func histogramCount(t *testing.T, snap map[string]metricdata.Metrics, name string) uint64 {
	t.Helper()
	met, ok := snap[name]
	if !ok {
		t.Fatalf("metric %q not recorded", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q has no data points", name)
	}
	return hist.DataPoints[0].Count
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestStageDurationHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	stages := map[string]metric.Float64Histogram{
		"donna.stt.duration":            m.STTDuration,
		"donna.llm.duration":            m.LLMDuration,
		"donna.tts.duration":            m.TTSDuration,
		"donna.director.duration":       m.DirectorDuration,
		"donna.analysis.duration":       m.AnalysisDuration,
		"donna.tool_execution.duration": m.ToolExecutionDuration,
	}
	for _, h := range stages {
		h.Record(ctx, 0.123)
		h.Record(ctx, 0.456)
	}

	snap := snapshot(t, reader)
	for name := range stages {
		if got := histogramCount(t, snap, name); got != 2 {
			t.Errorf("%s sample count = %d, want 2", name, got)
		}
	}
}

func TestCallsStartedCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCallStarted(ctx, "reminder")
	m.RecordCallStarted(ctx, "reminder")
	m.RecordCallStarted(ctx, "inbound")

	snap := snapshot(t, reader)
	if got := counterValue(t, snap, "donna.calls.started", "kind", "reminder"); got != 2 {
		t.Errorf("reminder calls = %d, want 2", got)
	}
	if got := counterValue(t, snap, "donna.calls.started", "kind", "inbound"); got != 1 {
		t.Errorf("inbound calls = %d, want 1", got)
	}
}

func TestRemindersFiredCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReminderFired(ctx, false)
	m.RecordReminderFired(ctx, false)
	m.RecordReminderFired(ctx, true)

	snap := snapshot(t, reader)
	if got := counterValue(t, snap, "donna.reminders.fired", "retry", "false"); got != 2 {
		t.Errorf("first attempts = %d, want 2", got)
	}
	if got := counterValue(t, snap, "donna.reminders.fired", "retry", "true"); got != 1 {
		t.Errorf("retries = %d, want 1", got)
	}
}

func TestDeliveryOutcomesCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDeliveryOutcome(ctx, "acknowledged")
	m.RecordDeliveryOutcome(ctx, "acknowledged")
	m.RecordDeliveryOutcome(ctx, "retry_pending")

	snap := snapshot(t, reader)
	if got := counterValue(t, snap, "donna.reminder.deliveries", "status", "acknowledged"); got != 2 {
		t.Errorf("acknowledged = %d, want 2", got)
	}
}

func TestGuidanceInjectionsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGuidanceInjection(ctx, "observer")
	m.RecordGuidanceInjection(ctx, "director")
	m.RecordGuidanceInjection(ctx, "director")

	snap := snapshot(t, reader)
	if got := counterValue(t, snap, "donna.guidance.injections", "layer", "director"); got != 2 {
		t.Errorf("director injections = %d, want 2", got)
	}
}

func TestBargeInsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBargeIn(ctx)
	m.RecordBargeIn(ctx)

	if got := sumValue(t, snapshot(t, reader), "donna.barge_ins"); got != 2 {
		t.Errorf("barge-ins = %d, want 2", got)
	}
}

func TestToolCallsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "recall_memory", "ok")
	m.RecordToolCall(ctx, "recall_memory", "error")

	snap := snapshot(t, reader)
	if got := counterValue(t, snap, "donna.tool.calls", "status", "ok"); got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("provider", "deepgram"),
		attribute.String("kind", "stt"),
		attribute.String("status", "ok"),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.RecordProviderRequest(ctx, "deepgram", "stt", "error")
	m.RecordProviderError(ctx, "elevenlabs", "tts")

	snap := snapshot(t, reader)
	if got := counterValue(t, snap, "donna.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := counterValue(t, snap, "donna.provider.errors", "provider", "elevenlabs"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestActiveCallsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, -1)

	if got := sumValue(t, snapshot(t, reader), "donna.active_calls"); got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	if got := histogramCount(t, snapshot(t, reader), "donna.http.request.duration"); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

// Package observe provides application-wide observability primitives for
// Donna: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// All metrics go through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so everything stays scrapable from
// the usual /metrics endpoint. [DefaultMetrics] returns a shared
// package-level instance; tests should construct their own via [NewMetrics]
// with a private [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Donna metrics.
const meterName = "github.com/agewell-labs/donna"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks utterance-end to final-transcript latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks responder completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis-request to first-audio latency.
	TTSDuration metric.Float64Histogram

	// DirectorDuration tracks director guidance completion latency.
	DirectorDuration metric.Float64Histogram

	// AnalysisDuration tracks post-call review and extraction latency.
	AnalysisDuration metric.Float64Histogram

	// ToolExecutionDuration tracks in-call tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// CallsStarted counts calls by how they began. Use with attribute:
	//   attribute.String("kind", ...)
	CallsStarted metric.Int64Counter

	// RemindersFired counts outbound reminder calls placed. Use with attribute:
	//   attribute.Bool("retry", ...)
	RemindersFired metric.Int64Counter

	// DeliveryOutcomes counts reminder deliveries settling into a status. Use
	// with attribute:
	//   attribute.String("status", ...)
	DeliveryOutcomes metric.Int64Counter

	// GuidanceInjections counts guidance handed to the responder. Use with
	// attribute:
	//   attribute.String("layer", ...) // "observer" or "director"
	GuidanceInjections metric.Int64Counter

	// BargeIns counts senior interruptions that cut off playback.
	BargeIns metric.Int64Counter

	// ToolCalls counts tool invocations, tagged with the tool name and its
	// outcome status.
	ToolCalls metric.Int64Counter

	// ProviderRequests counts calls to upstream providers, tagged with
	// provider, kind, and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts upstream provider failures, tagged with provider
	// and kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks request handling time, tagged with method
	// and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are the histogram bucket boundaries, in seconds, used for
// the per-stage latency histograms.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns the first error any instrument creation
// produced.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	histogram := func(name, desc string, buckets []float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{
			metric.WithDescription(desc),
			metric.WithUnit("s"),
		}
		if buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		keep(err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		keep(err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		keep(err)
		return g
	}

	met := &Metrics{
		STTDuration:           histogram("donna.stt.duration", "Latency from utterance end to final transcript.", latencyBuckets),
		LLMDuration:           histogram("donna.llm.duration", "Latency of responder completions.", latencyBuckets),
		TTSDuration:           histogram("donna.tts.duration", "Latency from synthesis request to first audio.", latencyBuckets),
		DirectorDuration:      histogram("donna.director.duration", "Latency of director guidance completions.", latencyBuckets),
		AnalysisDuration:      histogram("donna.analysis.duration", "Latency of post-call review and memory extraction.", latencyBuckets),
		ToolExecutionDuration: histogram("donna.tool_execution.duration", "Latency of in-call tool execution.", latencyBuckets),

		CallsStarted:       counter("donna.calls.started", "Total calls by kind (inbound, outbound, reminder)."),
		RemindersFired:     counter("donna.reminders.fired", "Total outbound reminder calls placed, first attempts and retries."),
		DeliveryOutcomes:   counter("donna.reminder.deliveries", "Total reminder deliveries settling into a status."),
		GuidanceInjections: counter("donna.guidance.injections", "Total guidance notes injected, by layer."),
		BargeIns:           counter("donna.barge_ins", "Total senior interruptions that cut off playback."),
		ToolCalls:          counter("donna.tool.calls", "Total tool invocations by tool name and status."),
		ProviderRequests:   counter("donna.provider.requests", "Total provider API requests by provider, kind, and status."),
		ProviderErrors:     counter("donna.provider.errors", "Total provider errors by provider and kind."),

		ActiveCalls: gauge("donna.active_calls", "Number of live calls."),

		// Default buckets: HTTP handlers here are webhooks and health
		// probes, not pipeline stages.
		HTTPRequestDuration: histogram("donna.http.request.duration", "HTTP request handling time by method and path.", nil),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return met, nil
}

// defaultMetrics backs [DefaultMetrics]; created on first use.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from [otel.GetMeterProvider]. Later calls return the same
// pointer. Panics if instrument creation fails, which the global provider
// does not do in practice.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCallStarted counts a call beginning, tagged with how it was
// initiated.
func (m *Metrics) RecordCallStarted(ctx context.Context, kind string) {
	m.CallsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordReminderFired counts an outbound reminder call being placed.
func (m *Metrics) RecordReminderFired(ctx context.Context, retry bool) {
	m.RemindersFired.Add(ctx, 1, metric.WithAttributes(attribute.Bool("retry", retry)))
}

// RecordDeliveryOutcome counts a reminder delivery settling into a status.
func (m *Metrics) RecordDeliveryOutcome(ctx context.Context, status string) {
	m.DeliveryOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordGuidanceInjection counts one guidance note handed to the responder
// by the given layer.
func (m *Metrics) RecordGuidanceInjection(ctx context.Context, layer string) {
	m.GuidanceInjections.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordBargeIn counts one senior interruption.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// RecordToolCall counts one tool invocation with its outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordProviderRequest counts one upstream provider call with its outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one upstream provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

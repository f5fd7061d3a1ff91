// Package observe provides the observability primitives for Kurozu:
// OpenTelemetry metrics and spans, trace-aware logging, and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are exported to
// Prometheus by [InitProvider]. Tests should build their own [Metrics] with
// [NewMetrics] over a private meter provider instead of using
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all Kurozu metrics.
const meterName = "github.com/MrWong99/kurozu"

// Metrics holds the metric instruments of the application. The OTel types
// synchronise themselves, so a Metrics value is safe for concurrent use.
type Metrics struct {
	// ChatDuration is the latency of a chat completion, by provider slot.
	ChatDuration metric.Float64Histogram

	// SpeechDuration is the latency of a speech synthesis call, by provider slot.
	SpeechDuration metric.Float64Histogram

	// ProviderRequests counts gateway calls by provider, kind, and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts gateway failures by provider, kind, and reason.
	ProviderErrors metric.Int64Counter

	// Turns counts finished assistant turns by stage and outcome
	// ("revealed", "apology", "completed", "discarded").
	Turns metric.Int64Counter

	// ScreenTransitions counts entries into each screen.
	ScreenTransitions metric.Int64Counter

	// HTTPRequestDuration is the processing time of HTTP requests.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for remote model
// calls that take from a few hundred milliseconds to tens of seconds.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChatDuration, err = m.Float64Histogram("kurozu.chat.duration",
		metric.WithDescription("Latency of chat completion requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("kurozu.speech.duration",
		metric.WithDescription("Latency of speech synthesis requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("kurozu.provider.requests",
		metric.WithDescription("Gateway requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("kurozu.provider.errors",
		metric.WithDescription("Gateway failures by provider, kind, and reason."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("kurozu.turns",
		metric.WithDescription("Assistant turns by stage and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ScreenTransitions, err = m.Int64Counter("kurozu.screen.transitions",
		metric.WithDescription("Screen entries by target screen."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("kurozu.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] built on
// [otel.GetMeterProvider]. Call it after [InitProvider] so the instruments
// bind to the exporting provider.
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

// RecordProviderCall records the outcome of one gateway call. reason is empty
// on success.
func (m *Metrics) RecordProviderCall(ctx context.Context, kind, provider, reason string, elapsed time.Duration) {
	status := "ok"
	if reason != "" {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)

	dur := metric.WithAttributes(attribute.String("provider", provider))
	switch kind {
	case "chat":
		m.ChatDuration.Record(ctx, elapsed.Seconds(), dur)
	case "speech":
		m.SpeechDuration.Record(ctx, elapsed.Seconds(), dur)
	}

	if reason != "" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("reason", reason),
		))
	}
}

// RecordTurn counts one finished assistant turn.
func (m *Metrics) RecordTurn(ctx context.Context, stage, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

// RecordTransition counts one entry into screen.
func (m *Metrics) RecordTransition(ctx context.Context, screen string) {
	m.ScreenTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("screen", screen)))
}

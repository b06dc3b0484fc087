// Package observe provides the Argument Clinic's observability primitives:
// OpenTelemetry metrics and traces, trace-aware structured logging, HTTP
// middleware, and the in-memory latency window behind /ws/metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter installed by [InitProvider]. Tests should build a
// [Metrics] with [NewMetrics] over their own [metric.MeterProvider] to avoid
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/inchoate/argument-clinic"

// Metrics holds the application's metric instruments. All fields are safe
// for concurrent use.
type Metrics struct {
	// TurnDuration tracks end-to-end turn latency. Attributes: node, voice.
	TurnDuration metric.Float64Histogram

	// ProviderDuration tracks a single provider attempt. Attributes:
	// capability, provider, status.
	ProviderDuration metric.Float64Histogram

	// ProviderRequests counts provider attempts. Attributes: capability,
	// provider, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider attempts. Attributes: capability,
	// provider.
	ProviderErrors metric.Int64Counter

	// FallbackUsed counts capability calls served by a non-primary provider.
	// Attributes: capability, provider.
	FallbackUsed metric.Int64Counter

	// Turns counts completed turns. Attribute: node.
	Turns metric.Int64Counter

	// TurnErrors counts abandoned turns. Attribute: reason.
	TurnErrors metric.Int64Counter

	// ActiveSessions is the number of sessions in the session table.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsCreated counts sessions ever created.
	SessionsCreated metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for LLM and
// speech provider round trips.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("clinic.turn.duration",
		metric.WithDescription("End-to-end latency of a conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("clinic.provider.duration",
		metric.WithDescription("Latency of a single provider attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("clinic.provider.requests",
		metric.WithDescription("Provider attempts by capability, provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("clinic.provider.errors",
		metric.WithDescription("Failed provider attempts by capability and provider."),
	); err != nil {
		return nil, err
	}
	if met.FallbackUsed, err = m.Int64Counter("clinic.fallback.used",
		metric.WithDescription("Capability calls served by a fallback provider."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("clinic.turns",
		metric.WithDescription("Completed turns by responding node."),
	); err != nil {
		return nil, err
	}
	if met.TurnErrors, err = m.Int64Counter("clinic.turn.errors",
		metric.WithDescription("Abandoned turns by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("clinic.sessions.active",
		metric.WithDescription("Number of sessions in the session table."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCreated, err = m.Int64Counter("clinic.sessions.created",
		metric.WithDescription("Total sessions created."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("clinic.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
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

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveProvider records one provider attempt. It satisfies
// resilience.Observer.
func (m *Metrics) ObserveProvider(ctx context.Context, capability, provider string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("provider", provider),
		attribute.String("status", status(err)),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("provider", provider),
		))
	}
}

// RecordFallback counts a capability call served by provider after the
// primary failed.
func (m *Metrics) RecordFallback(ctx context.Context, capability, provider string) {
	m.FallbackUsed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("provider", provider),
	))
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(ctx context.Context, node string, voice bool, elapsed time.Duration) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("node", node)))
	m.TurnDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("node", node),
		attribute.Bool("voice", voice),
	))
}

// RecordTurnError records an abandoned turn.
func (m *Metrics) RecordTurnError(ctx context.Context, reason string) {
	m.TurnErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SessionOpened records a newly created session.
func (m *Metrics) SessionOpened(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
	m.SessionsCreated.Add(ctx, 1)
}

// SessionClosed records n removed sessions.
func (m *Metrics) SessionClosed(ctx context.Context, n int) {
	if n > 0 {
		m.ActiveSessions.Add(ctx, -int64(n))
	}
}

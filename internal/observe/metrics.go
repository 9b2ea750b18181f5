// Package observe provides application-wide observability primitives for
// speakdrill: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all speakdrill metrics.
const meterName = "github.com/MrWong99/speakdrill"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// SessionDuration tracks the wall time of a live session from connect to
	// settle. Attributes: mode, outcome.
	SessionDuration metric.Float64Histogram

	// Sessions counts settled live sessions. Attributes: mode, outcome.
	Sessions metric.Int64Counter

	// SessionErrors counts failed sessions. Attributes: kind, phase.
	SessionErrors metric.Int64Counter

	// AudioChunks counts audio chunks received from the live provider.
	AudioChunks metric.Int64Counter

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets are histogram boundaries (in seconds) for live sessions,
// which typically take several seconds and are capped at under a minute.
var sessionBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 30, 45, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("speakdrill.live.session.duration",
		metric.WithDescription("Duration of live sessions by mode and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("speakdrill.live.sessions",
		metric.WithDescription("Total settled live sessions by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("speakdrill.live.session.errors",
		metric.WithDescription("Total failed live sessions by error kind and phase."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("speakdrill.live.audio_chunks",
		metric.WithDescription("Total audio chunks received from the live provider."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("speakdrill.live.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakdrill.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSession records the duration and outcome of one settled session.
func (m *Metrics) RecordSession(ctx context.Context, mode, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	m.Sessions.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, seconds, attrs)
}

// RecordSessionError records a failed session.
func (m *Metrics) RecordSessionError(ctx context.Context, kind, phase string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("phase", phase),
		),
	)
}

// RecordAudioChunks adds n to the received audio chunk counter.
func (m *Metrics) RecordAudioChunks(ctx context.Context, mode string, n int) {
	if n <= 0 {
		return
	}
	m.AudioChunks.Add(ctx, int64(n), metric.WithAttributes(attribute.String("mode", mode)))
}

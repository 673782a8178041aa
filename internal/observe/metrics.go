// Package observe provides OpenTelemetry metrics, tracing, and trace-aware
// logging for psych-agent.
//
// Tests should build a [Metrics] with [NewMetrics] and their own
// [metric.MeterProvider]; production code uses [DefaultMetrics], which is bound
// to the global provider installed by [InitProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "psych-agent"

// Turn outcomes recorded on the turns counter.
const (
	OutcomeOK              = "ok"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeUnknownUser     = "unknown_user"
	OutcomeGenerationError = "generation_error"
	OutcomeStoreError      = "store_error"
	OutcomeCancelled       = "cancelled"
)

// Generation purposes recorded on the duration histogram.
const (
	PurposeReply   = "reply"
	PurposeSummary = "summary"
)

// Metrics holds the instruments recorded by the turn pipeline.
type Metrics struct {
	// Turns counts completed turns by attribute "outcome".
	Turns metric.Int64Counter

	// GenerationDuration tracks model latency by attributes "purpose" and "status".
	GenerationDuration metric.Float64Histogram

	// SummaryLength tracks the character length of persisted summaries.
	SummaryLength metric.Int64Histogram
}

// generation calls are slow; buckets reach a minute.
var latencyBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Turns, err = m.Int64Counter("psych_agent.turns",
		metric.WithDescription("Chat turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("psych_agent.generation.duration",
		metric.WithDescription("Latency of a generation call by purpose and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryLength, err = m.Int64Histogram("psych_agent.summary.length",
		metric.WithDescription("Length in characters of persisted summaries."),
		metric.WithUnit("{char}"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics bound to the global meter
// provider. Call it after [InitProvider].
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

// RecordTurn increments the turns counter. Nil receivers are ignored.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordGeneration records the latency of one generation call.
func (m *Metrics) RecordGeneration(ctx context.Context, purpose string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.GenerationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordSummaryLength(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.SummaryLength.Record(ctx, int64(n))
}

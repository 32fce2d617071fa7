// Package telemetry provides OpenTelemetry instruments for the refresh pipeline
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RefreshMeterName is the meter name for refresh instruments
const RefreshMeterName = "curator/refresh"

// RefreshMetrics holds the instruments shared by workers, queue and pool
// a nil *RefreshMetrics is valid and records nothing
type RefreshMetrics struct {
	jobs          metric.Int64Counter
	jobDuration   metric.Float64Histogram
	credWait      metric.Float64Histogram
	staleDiscards metric.Int64Counter
	fanout        metric.Int64Counter
	derived       metric.Int64Counter
}

// NewRefreshMetrics creates the instruments on provider
// If provider is nil, it returns nil (no-op metrics).
func NewRefreshMetrics(provider metric.MeterProvider) (*RefreshMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(RefreshMeterName)

	jobs, err := meter.Int64Counter(
		"curator_jobs_total",
		metric.WithDescription("Refresh jobs processed by outcome and error kind"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram(
		"curator_job_duration_seconds",
		metric.WithDescription("Duration of one orchestration run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}
	credWait, err := meter.Float64Histogram(
		"curator_credential_wait_seconds",
		metric.WithDescription("Time spent waiting for a credential checkout"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60),
	)
	if err != nil {
		return nil, err
	}
	staleDiscards, err := meter.Int64Counter(
		"curator_queue_stale_discards_total",
		metric.WithDescription("Dequeued jobs discarded because they were superseded or already serviced"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}
	fanout, err := meter.Int64Counter(
		"curator_fanout_enqueued_total",
		metric.WithDescription("Related entities enqueued by fan-out"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}
	derived, err := meter.Int64Counter(
		"curator_derived_total",
		metric.WithDescription("Derived-data recomputations by outcome"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	return &RefreshMetrics{
		jobs:          jobs,
		jobDuration:   jobDuration,
		credWait:      credWait,
		staleDiscards: staleDiscards,
		fanout:        fanout,
		derived:       derived,
	}, nil
}

// RecordJob records one finished orchestration run
func (m *RefreshMetrics) RecordJob(ctx context.Context, backend, outcome, kind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	)
	m.jobs.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCredentialWait records how long a checkout took
func (m *RefreshMetrics) RecordCredentialWait(ctx context.Context, backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.credWait.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordStaleDiscard counts a superseded job dropped at dequeue
func (m *RefreshMetrics) RecordStaleDiscard(ctx context.Context) {
	if m == nil {
		return
	}
	m.staleDiscards.Add(ctx, 1)
}

// RecordFanout counts relations enqueued by one run
func (m *RefreshMetrics) RecordFanout(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fanout.Add(ctx, int64(n))
}

// RecordDerived counts one derived-data recompute
func (m *RefreshMetrics) RecordDerived(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.derived.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

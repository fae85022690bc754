package mcos

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the OTel instruments MCOS emits into. A nil *Metrics
// (what New wires when no Meter is supplied) is always safe to call methods on, so components
// never need a nil-check before instrumenting.
type Metrics struct {
	vectorOpDuration   metric.Float64Histogram
	jobsDeadlettered   metric.Int64Counter
	jobsEnqueued       metric.Int64Counter
	jobsCompleted      metric.Int64Counter
	queueDepth         metric.Int64UpDownCounter
	sessionsEvicted    metric.Int64Counter
	assembleDeadlines  metric.Int64Counter
}

// NewMetrics builds a Metrics bundle registered against the given meter
// (typically obtained from an otel/sdk/metric MeterProvider).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.vectorOpDuration, err = meter.Float64Histogram(
		"mcos.vectorstore.operation.duration",
		metric.WithDescription("Duration of VectorStore operations in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.jobsDeadlettered, err = meter.Int64Counter(
		"mcos.jobs.deadlettered",
		metric.WithDescription("Background jobs that exhausted all retry attempts"),
	); err != nil {
		return nil, err
	}
	if m.jobsEnqueued, err = meter.Int64Counter(
		"mcos.jobs.enqueued",
		metric.WithDescription("Background jobs enqueued"),
	); err != nil {
		return nil, err
	}
	if m.jobsCompleted, err = meter.Int64Counter(
		"mcos.jobs.completed",
		metric.WithDescription("Background jobs completed successfully"),
	); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64UpDownCounter(
		"mcos.jobs.queue_depth",
		metric.WithDescription("Current depth of the in-process job queue"),
	); err != nil {
		return nil, err
	}
	if m.sessionsEvicted, err = meter.Int64Counter(
		"mcos.sessions.evicted",
		metric.WithDescription("Chat sessions evicted by the janitor or by the MaxSessions LRU bound"),
	); err != nil {
		return nil, err
	}
	if m.assembleDeadlines, err = meter.Int64Counter(
		"mcos.assemble.deadline_exceeded",
		metric.WithDescription("AssembleContext calls that returned partial results due to deadline"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) ObserveVectorOp(ctx context.Context, op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.vectorOpDuration.Record(ctx, dur.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	))
}

func (m *Metrics) IncJobDeadlettered(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.jobsDeadlettered.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", jobType)))
	m.queueDepth.Add(ctx, -1)
}

func (m *Metrics) IncJobEnqueued(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", jobType)))
	m.queueDepth.Add(ctx, 1)
}

func (m *Metrics) IncJobCompleted(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", jobType)))
	m.queueDepth.Add(ctx, -1)
}

func (m *Metrics) IncSessionEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsEvicted.Add(ctx, 1)
}

func (m *Metrics) IncAssembleDeadline(ctx context.Context) {
	if m == nil {
		return
	}
	m.assembleDeadlines.Add(ctx, 1)
}


package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/flamehaven01/rexsyn/ext"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// scopeName is the instrumentation scope for rexsyn telemetry.
const scopeName = "github.com/flamehaven01/rexsyn"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobCreated     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetried     = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.JobDeleted     = (*MetricsExtension)(nil)
	_ ext.StageCompleted = (*MetricsExtension)(nil)

	_ ext.Extension      = (*TracingExtension)(nil)
	_ ext.JobCompleted   = (*TracingExtension)(nil)
	_ ext.JobFailed      = (*TracingExtension)(nil)
	_ ext.StageCompleted = (*TracingExtension)(nil)
	_ ext.StageSkipped   = (*TracingExtension)(nil)
)

// MetricsExtension records lifecycle metrics through OpenTelemetry. If
// no MeterProvider is configured globally, all instruments are noops and
// the extension costs nothing.
type MetricsExtension struct {
	jobsCreated   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobsRetried   metric.Int64Counter
	jobsCancelled metric.Int64Counter
	jobsDeleted   metric.Int64Counter
	jobDuration   metric.Float64Histogram
	stageDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(scopeName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter, for testing or when multiple providers are in use.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	e := &MetricsExtension{}

	// On error, the API returns noop instruments so the extension
	// degrades gracefully.
	e.jobsCreated, _ = meter.Int64Counter("rexsyn.jobs.created",
		metric.WithDescription("Total jobs created"),
		metric.WithUnit("{job}"),
	)
	e.jobsCompleted, _ = meter.Int64Counter("rexsyn.jobs.completed",
		metric.WithDescription("Total jobs completed"),
		metric.WithUnit("{job}"),
	)
	e.jobsFailed, _ = meter.Int64Counter("rexsyn.jobs.failed",
		metric.WithDescription("Total jobs that entered failed status"),
		metric.WithUnit("{job}"),
	)
	e.jobsRetried, _ = meter.Int64Counter("rexsyn.jobs.retried",
		metric.WithDescription("Total retry attempts"),
		metric.WithUnit("{retry}"),
	)
	e.jobsCancelled, _ = meter.Int64Counter("rexsyn.jobs.cancelled",
		metric.WithDescription("Total jobs cancelled"),
		metric.WithUnit("{job}"),
	)
	e.jobsDeleted, _ = meter.Int64Counter("rexsyn.jobs.deleted",
		metric.WithDescription("Total jobs erased by cascade delete"),
		metric.WithUnit("{job}"),
	)
	e.jobDuration, _ = meter.Float64Histogram("rexsyn.job.duration",
		metric.WithDescription("End-to-end job execution time in seconds"),
		metric.WithUnit("s"),
	)
	e.stageDuration, _ = meter.Float64Histogram("rexsyn.stage.duration",
		metric.WithDescription("Per-stage execution time in seconds"),
		metric.WithUnit("s"),
	)
	return e
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func pipelineAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("pipeline", j.Pipeline))
}

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.jobsCreated.Add(ctx, 1, pipelineAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.jobsCompleted.Add(ctx, 1, pipelineAttr(j))
	m.jobDuration.Record(ctx, elapsed.Seconds(), pipelineAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", j.Pipeline),
		attribute.String("stage", j.FailedStage),
	))
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (m *MetricsExtension) OnJobRetried(ctx context.Context, j *job.Job, _ int) error {
	m.jobsRetried.Add(ctx, 1, pipelineAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.jobsCancelled.Add(ctx, 1, pipelineAttr(j))
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (m *MetricsExtension) OnJobDeleted(ctx context.Context, _ id.JobID, _ string, _ int) error {
	m.jobsDeleted.Add(ctx, 1)
	return nil
}

// OnStageCompleted implements ext.StageCompleted.
func (m *MetricsExtension) OnStageCompleted(ctx context.Context, j *job.Job, stage string, elapsed time.Duration) error {
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("pipeline", j.Pipeline),
		attribute.String("stage", stage),
	))
	return nil
}

// TracingExtension emits one OpenTelemetry span per finished stage and
// per finished job. Spans are created retroactively from the elapsed
// time the hook reports, so the extension keeps no cross-hook state and
// never leaks an unfinished span.
type TracingExtension struct {
	tracer trace.Tracer
}

// NewTracingExtension creates a TracingExtension using the global
// TracerProvider. With no provider configured the noop tracer is used.
func NewTracingExtension() *TracingExtension {
	return NewTracingExtensionWithTracer(otel.Tracer(scopeName))
}

// NewTracingExtensionWithTracer creates a TracingExtension with the
// provided tracer.
func NewTracingExtensionWithTracer(tracer trace.Tracer) *TracingExtension {
	return &TracingExtension{tracer: tracer}
}

// Name implements ext.Extension.
func (t *TracingExtension) Name() string { return "observability-tracing" }

// OnJobCompleted implements ext.JobCompleted.
func (t *TracingExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	_, span := t.tracer.Start(ctx, "rexsyn.job.run",
		trace.WithTimestamp(time.Now().Add(-elapsed)),
		trace.WithAttributes(jobAttrs(j)...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (t *TracingExtension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	_, span := t.tracer.Start(ctx, "rexsyn.job.run",
		trace.WithAttributes(append(jobAttrs(j), attribute.String("rexsyn.stage", j.FailedStage))...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.RecordError(jobErr)
	span.SetStatus(codes.Error, jobErr.Error())
	span.End()
	return nil
}

// OnStageCompleted implements ext.StageCompleted.
func (t *TracingExtension) OnStageCompleted(ctx context.Context, j *job.Job, stage string, elapsed time.Duration) error {
	_, span := t.tracer.Start(ctx, "rexsyn.stage.run",
		trace.WithTimestamp(time.Now().Add(-elapsed)),
		trace.WithAttributes(append(jobAttrs(j), attribute.String("rexsyn.stage", stage))...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
	return nil
}

// OnStageSkipped implements ext.StageSkipped. Skips are recorded so a
// trace of a resumed job shows which work was reused.
func (t *TracingExtension) OnStageSkipped(ctx context.Context, j *job.Job, stage string) error {
	_, span := t.tracer.Start(ctx, "rexsyn.stage.skip",
		trace.WithAttributes(append(jobAttrs(j), attribute.String("rexsyn.stage", stage))...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
	return nil
}

func jobAttrs(j *job.Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rexsyn.job.id", j.ID.String()),
		attribute.String("rexsyn.pipeline", j.Pipeline),
		attribute.String("rexsyn.org.id", j.OrgID.String()),
		attribute.Int("rexsyn.retry_count", j.RetryCount),
	}
}

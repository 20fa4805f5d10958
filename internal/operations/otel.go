package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"egc/internal/infrastructure"
	"egc/internal/ingest"
)

const TracerName = "egc.jobs"

// jobTracer wraps the span and metric bookkeeping of one job run.
type jobTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.BusinessMetrics
}

func newJobTracer(metrics *infrastructure.BusinessMetrics) *jobTracer {
	return &jobTracer{tracer: otel.Tracer(TracerName), metrics: metrics}
}

func (t *jobTracer) start(ctx context.Context, job *Job) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "job.ingest",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.source", job.Source),
			attribute.Bool("job.header", job.Options.Header),
		),
	)
	infrastructure.RecordActiveIngestChange(ctx, t.metrics, 1, "job")
	return ctx, span
}

func (t *jobTracer) end(ctx context.Context, span trace.Span, job *Job, res ingest.Result, d time.Duration) {
	defer span.End()
	infrastructure.RecordActiveIngestChange(ctx, t.metrics, -1, "job")

	span.SetAttributes(
		attribute.String("job.status", string(job.Status)),
		attribute.Int64("job.rows", res.State.TotalRows),
		attribute.Int("job.chunks", res.Chunks),
		attribute.Int("job.warnings", len(res.State.Errors)),
	)
	if job.Status == JobStatusFailed {
		span.SetStatus(codes.Error, job.Error)
	}

	infrastructure.RecordIngestRun(ctx, t.metrics, "job", string(res.Phase), res.State.TotalRows, res.Chunks, d)
	t.finished(ctx, job.Status)
}

// finished counts a job reaching a final status.
func (t *jobTracer) finished(ctx context.Context, status JobStatus) {
	if t.metrics == nil {
		return
	}
	t.metrics.IngestJobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

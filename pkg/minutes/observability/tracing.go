package observability

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of pipeline spans.
const TracerName = "github.com/otherjamesbrown/minutes/pkg/minutes"

// Span attribute keys.
const (
	AttrJobID     = "minutes.job_id"
	AttrStage     = "minutes.stage"
	AttrStatus    = "minutes.status"
	AttrErrorCode = "minutes.error_code"
	AttrRetryable = "minutes.retryable"
)

// Tracer starts pipeline spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartAdvanceSpan starts the root span of one worker pass over a job.
func (t *Tracer) StartAdvanceSpan(ctx context.Context, jobID uuid.UUID, status string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "minutes.advance",
		trace.WithAttributes(
			attribute.String(AttrJobID, jobID.String()),
			attribute.String(AttrStatus, status),
		),
	)
}

// StartStageSpan starts a span for one stage.
func (t *Tracer) StartStageSpan(ctx context.Context, jobID uuid.UUID, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "minutes.stage."+stage,
		trace.WithAttributes(
			attribute.String(AttrJobID, jobID.String()),
			attribute.String(AttrStage, stage),
		),
	)
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error, code string, retryable bool) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.String(AttrErrorCode, code),
			attribute.Bool(AttrRetryable, retryable),
		)
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the trace id in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

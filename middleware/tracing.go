package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/spool/job"
)

// tracerName is the instrumentation scope name for spool tracing.
const tracerName = "github.com/xraph/spool"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: spool.job.id, spool.job.type, spool.queue,
// spool.job.attempt, spool.job.max_attempts, spool.job.priority.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "spool.job.execute",
			trace.WithAttributes(
				attribute.String("spool.job.id", j.ID.String()),
				attribute.String("spool.job.type", j.Type),
				attribute.String("spool.queue", j.Queue),
				attribute.Int("spool.job.attempt", j.AttemptsMade),
				attribute.Int("spool.job.max_attempts", j.MaxAttempts),
				attribute.Int("spool.job.priority", j.Priority),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Bool("spool.job.permanent", job.IsPermanent(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}

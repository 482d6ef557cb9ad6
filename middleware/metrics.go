package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/spool/job"
)

// meterName is the instrumentation scope name for spool metrics.
const meterName = "github.com/xraph/spool"

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider. Without a configured provider the instruments
// are noops.
//
// Instruments:
//   - spool.job.duration (Float64Histogram): attempt time in seconds
//   - spool.job.attempts (Int64Counter): attempts executed
//
// Both carry job_type, queue and outcome ("ok", "error" or "permanent").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors leave noop instruments in place.
	duration, _ := meter.Float64Histogram(
		"spool.job.duration",
		metric.WithDescription("Duration of one job attempt in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"spool.job.attempts",
		metric.WithDescription("Total number of job attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		attrs := metric.WithAttributes(
			attribute.String("job_type", j.Type),
			attribute.String("queue", j.Queue),
			attribute.String("outcome", outcome(err)),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		attempts.Add(ctx, 1, attrs)

		return err
	}
}

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/spool/ext"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobStalled      = (*MetricsExtension)(nil)
	_ ext.ArtifactExpired = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/spool/observability"

// MetricsExtension records lifecycle counters through an OTel meter. Job
// counters carry job_type and queue attributes.
type MetricsExtension struct {
	JobEnqueued     metric.Int64Counter
	JobCompleted    metric.Int64Counter
	JobFailed       metric.Int64Counter
	JobRetried      metric.Int64Counter
	JobStalled      metric.Int64Counter
	JobDuration     metric.Float64Histogram
	ArtifactExpired metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("spool.job.lifetime",
		metric.WithDescription("Time from claim to completion of the final attempt in seconds"),
		metric.WithUnit("s"),
	)

	return &MetricsExtension{
		JobEnqueued:     counter("spool.job.enqueued", "Jobs stored"),
		JobCompleted:    counter("spool.job.completed", "Jobs that reached completed"),
		JobFailed:       counter("spool.job.failed", "Jobs that reached failed"),
		JobRetried:      counter("spool.job.retried", "Failed attempts requeued with backoff"),
		JobStalled:      counter("spool.job.stalled", "Stalled active jobs recovered by the reaper"),
		JobDuration:     duration,
		ArtifactExpired: counter("spool.artifact.expired", "Expired artifacts removed by the sweeper"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", j.Type),
		attribute.String("queue", j.Queue),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	m.JobDuration.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ error, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.JobStalled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Artifact hooks ──────────────────────────────────

// OnArtifactExpired implements ext.ArtifactExpired.
func (m *MetricsExtension) OnArtifactExpired(ctx context.Context, _ id.ExportID, _ string) error {
	m.ArtifactExpired.Add(ctx, 1)
	return nil
}

// Package ext defines the extension system for Spool.
// Extensions are notified of lifecycle events (job enqueued, completed,
// failed, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is stored.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker has claimed a job and is about to run it.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called once, after a job reaches completed.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a failed attempt was requeued as delayed.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, err error, nextAttemptAt time.Time) error
}

// JobFailed is called once, after a job reaches failed.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobStalled is called when the reaper recovers an active job whose worker
// stopped sending heartbeats.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ArtifactExpired is called after the sweeper removed an expired artifact.
type ArtifactExpired interface {
	OnArtifactExpired(ctx context.Context, exportID id.ExportID, filename string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

package job

import (
	"context"
	"time"

	"github.com/xraph/spool/id"
)

// Store defines the persistence contract for jobs. Every method that changes
// a job's status does so in a single atomic operation and returns
// spool.ErrInvalidTransition when the job is not in the expected status.
// Methods taking a Claim also return spool.ErrInvalidTransition when the
// job is active on a different attempt, or when Claim.StaleBefore is set
// and the heartbeat is no longer older than it.
// Callers never change status with a read-modify-write of their own.
type Store interface {
	// EnqueueJob persists a new job. Its status must be waiting or delayed.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimNext atomically selects the first ready job of queue in
	// (priority, createdAt) order, marks it active, increments AttemptsMade
	// and stamps StartedAt and HeartbeatAt with now. It returns nil, nil when
	// the queue is paused or nothing is ready. No two callers ever receive
	// the same job.
	ClaimNext(ctx context.Context, queue string, now time.Time) (*Job, error)

	// CompleteJob moves the job held by c to completed with progress 100.
	CompleteJob(ctx context.Context, c Claim, now time.Time) (*Job, error)

	// FailJob moves the job held by c to failed, recording reason.
	FailJob(ctx context.Context, c Claim, reason string, now time.Time) (*Job, error)

	// RequeueJob moves the job held by c to delayed until delayUntil,
	// recording reason as the last failure.
	RequeueJob(ctx context.Context, c Claim, reason string, delayUntil time.Time) (*Job, error)

	// RetryJob moves a failed job back to waiting with AttemptsMade reset
	// to zero and the failure fields cleared.
	RetryJob(ctx context.Context, jobID id.JobID, now time.Time) (*Job, error)

	// UpdateProgress sets progress on the job held by c. It never moves
	// status.
	UpdateProgress(ctx context.Context, c Claim, pct int) error

	// HeartbeatJob refreshes HeartbeatAt on the job held by c.
	HeartbeatJob(ctx context.Context, c Claim, now time.Time) error

	// ListStaleJobs returns active jobs of queue whose heartbeat is older
	// than before.
	ListStaleJobs(ctx context.Context, queue string, before time.Time) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs of queue in status, using the inclusive index
	// range [start, end]. A negative end means through the last job.
	// Waiting and delayed jobs are ordered by claim order, everything else
	// by most recent first.
	ListJobs(ctx context.Context, queue string, status Status, start, end int) ([]*Job, error)

	// CountJobs returns per-status counts for queue.
	CountJobs(ctx context.Context, queue string) (Counts, error)

	// CleanJobs removes jobs of queue in terminal status whose FinishedAt
	// is before the given time, returning how many were removed.
	CleanJobs(ctx context.Context, queue string, status Status, before time.Time) (int64, error)

	// SetPaused toggles the paused flag of queue.
	SetPaused(ctx context.Context, queue string, paused bool) error

	// IsPaused reports the paused flag of queue.
	IsPaused(ctx context.Context, queue string) (bool, error)
}

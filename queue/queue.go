package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
)

// Stats is a read-only snapshot of one queue.
type Stats struct {
	Name string `json:"name"`
	job.Counts
	Paused bool `json:"paused"`
}

// Queue is a named logical channel over the shared job store. It is safe
// for concurrent use.
type Queue struct {
	cfg     Config
	store   job.Store
	limiter *Limiter
	logger  *slog.Logger
	now     func() time.Time

	onEnqueue EnqueueHook

	// wake carries a single pending enqueue signal for idle local workers.
	wake   chan struct{}
	closed atomic.Bool
}

func newQueue(cfg Config, store job.Store, logger *slog.Logger, now func() time.Time) *Queue {
	return &Queue{
		cfg:     cfg,
		store:   store,
		limiter: NewLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  logger.With(slog.String("queue", cfg.Name)),
		now:     now,
		wake:    make(chan struct{}, 1),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.cfg.Name }

// Config returns the effective queue configuration.
func (q *Queue) Config() Config { return q.cfg }

// Limiter returns the claim rate limiter, or nil when unlimited.
func (q *Queue) Limiter() *Limiter { return q.limiter }

// Wake returns a channel that receives after work may have become ready.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Notify signals one idle local worker without blocking.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue inserts a new job of jobType and returns it. The job starts
// waiting, or delayed when a positive delay is given. Enqueue never waits
// for the job to run.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if q.closed.Load() {
		return nil, spool.ErrQueueClosed
	}
	if jobType == "" {
		return nil, fmt.Errorf("queue %s: enqueue: empty job type", q.cfg.Name)
	}

	o := job.Apply(opts...)
	if o.Priority < job.MinPriority || o.Priority > job.MaxPriority {
		return nil, fmt.Errorf("queue %s: enqueue: priority %d outside [%d, %d]: %w",
			q.cfg.Name, o.Priority, job.MinPriority, job.MaxPriority, spool.ErrInvalidRequest)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = q.cfg.MaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = q.cfg.Timeout
	}

	now := q.now().UTC()
	j := &job.Job{
		Entity:      spool.NewEntityAt(now),
		ID:          id.NewJobID(),
		Queue:       q.cfg.Name,
		Type:        jobType,
		Payload:     payload,
		Status:      job.StatusWaiting,
		Priority:    o.Priority,
		MaxAttempts: o.MaxAttempts,
		Timeout:     o.Timeout,
	}
	if o.Delay > 0 {
		until := now.Add(o.Delay)
		j.Status = job.StatusDelayed
		j.DelayUntil = &until
	}

	if err := q.store.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("queue %s: enqueue: %w", q.cfg.Name, err)
	}

	q.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("priority", j.Priority),
		slog.String("status", string(j.Status)),
	)

	if q.onEnqueue != nil {
		q.onEnqueue(ctx, j)
	}
	q.Notify()
	return j, nil
}

// ClaimNext atomically claims the first ready job. It returns nil, nil when
// the queue is paused or nothing is ready.
func (q *Queue) ClaimNext(ctx context.Context) (*job.Job, error) {
	return q.store.ClaimNext(ctx, q.cfg.Name, q.now())
}

// Get returns a job of this queue. A job that exists on another queue is
// reported as not found.
func (q *Queue) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Queue != q.cfg.Name {
		return nil, spool.ErrJobNotFound
	}
	return j, nil
}

// List returns jobs in status within the inclusive index range.
func (q *Queue) List(ctx context.Context, status job.Status, start, end int) ([]*job.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("queue %s: list: invalid status %q", q.cfg.Name, status)
	}
	return q.store.ListJobs(ctx, q.cfg.Name, status, start, end)
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
// This bypasses the retry policy and is meant for operators.
func (q *Queue) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	if _, err := q.Get(ctx, jobID); err != nil {
		return nil, err
	}
	j, err := q.store.RetryJob(ctx, jobID, q.now())
	if err != nil {
		return nil, err
	}

	q.logger.Info("failed job manually retried", slog.String("job_id", jobID.String()))
	q.Notify()
	return j, nil
}

// Pause stops claims. Jobs already active run to completion.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.store.SetPaused(ctx, q.cfg.Name, true); err != nil {
		return err
	}
	q.logger.Info("queue paused")
	return nil
}

// Resume restores claims.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.store.SetPaused(ctx, q.cfg.Name, false); err != nil {
		return err
	}
	q.logger.Info("queue resumed")
	q.Notify()
	return nil
}

// Paused reports whether the queue is paused.
func (q *Queue) Paused(ctx context.Context) (bool, error) {
	return q.store.IsPaused(ctx, q.cfg.Name)
}

// Stats returns per-status counts and the paused flag.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountJobs(ctx, q.cfg.Name)
	if err != nil {
		return Stats{}, err
	}
	paused, err := q.store.IsPaused(ctx, q.cfg.Name)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Name: q.cfg.Name, Counts: counts, Paused: paused}, nil
}

// Clean removes jobs in the terminal status that finished more than grace
// ago. Non-terminal statuses are rejected with spool.ErrInvalidTransition.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, status job.Status) (int64, error) {
	if !status.Terminal() {
		return 0, spool.ErrInvalidTransition
	}
	n, err := q.store.CleanJobs(ctx, q.cfg.Name, status, q.now().Add(-grace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("queue cleaned",
			slog.String("status", string(status)),
			slog.Int64("removed", n),
			slog.Duration("grace", grace),
		)
	}
	return n, nil
}

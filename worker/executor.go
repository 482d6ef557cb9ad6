// Package worker provides the job execution engine: an Executor that invokes
// registered handlers through middleware and applies the retry policy, and a
// per-queue Pool that runs concurrent claim loops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/backoff"
	"github.com/xraph/spool/ext"
	"github.com/xraph/spool/job"
	"github.com/xraph/spool/middleware"
)

// ReasonStalled is the failure reason recorded for jobs recovered from a
// crashed worker.
const ReasonStalled = "stalled"

// Executor runs a single claimed job through middleware and its registered
// handler, then moves it to completed, delayed or failed with one atomic
// store transition and emits the matching lifecycle event.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the delay strategy for retries. Defaults to exponential
// with spool.DefaultConfig().BackoffBase.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithMiddleware sets the middleware chain wrapped around every handler.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExecutorClock sets the time source for transitions and retry delays.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor.
func NewExecutor(registry *job.Registry, extensions *ext.Registry, store job.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		backoff:    backoff.NewExponential(spool.DefaultConfig().BackoffBase, 0),
		mw:         middleware.Chain(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a claimed (active) job. A non-nil error means the attempt
// failed; the job has already been requeued or failed by the time Execute
// returns. Handler errors never escape as panics.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	claim := j.Claim()
	if !ok {
		err := job.Permanent(fmt.Errorf("%w: %q", spool.ErrNoHandler, j.Type))
		e.handleFailure(context.WithoutCancel(ctx), j, claim, err)
		return err
	}

	progress := e.progressReporter(context.WithoutCancel(ctx), j, claim)
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload, progress)
	}

	start := time.Now()
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	// The attempt context may be cancelled by now; the outcome must still
	// be recorded.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		e.handleFailure(ctx, j, claim, err)
		return err
	}
	e.handleSuccess(ctx, j, claim, elapsed)
	return nil
}

// progressReporter returns the Progress callback passed to handlers.
// Updates are advisory: failures are logged and never move status.
func (e *Executor) progressReporter(ctx context.Context, j *job.Job, claim job.Claim) job.Progress {
	return func(pct int) {
		pct = min(max(pct, 0), 100)
		if err := e.store.UpdateProgress(ctx, claim, pct); err != nil {
			e.logger.Debug("progress update dropped",
				slog.String("job_id", j.ID.String()),
				slog.Int("progress", pct),
				slog.String("error", err.Error()),
			)
			return
		}
		j.Progress = pct
	}
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, claim job.Claim, elapsed time.Duration) {
	done, err := e.store.CompleteJob(ctx, claim, e.now())
	if err != nil {
		e.logTransitionError("complete", j, err)
		return
	}
	*j = *done

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	e.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.AttemptsMade),
		slog.Duration("elapsed", elapsed),
	)
}

// handleFailure applies the retry policy to a failed attempt. The decision
// uses the attempt count of claim, which the store transition is fenced on.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, claim job.Claim, cause error) {
	if job.IsPermanent(cause) {
		e.fail(ctx, j, claim, cause)
		return
	}

	d := backoff.DecideWith(e.backoff, claim.Attempt, j.MaxAttempts)
	if !d.Retry {
		e.fail(ctx, j, claim, cause)
		return
	}
	e.requeue(ctx, j, claim, cause, d.Delay)
}

func (e *Executor) requeue(ctx context.Context, j *job.Job, claim job.Claim, cause error, delay time.Duration) {
	next := e.now().Add(delay)
	requeued, err := e.store.RequeueJob(ctx, claim, cause.Error(), next)
	if err != nil {
		e.logTransitionError("requeue", j, err)
		return
	}
	*j = *requeued

	e.extensions.EmitJobRetrying(ctx, j, cause, next)
	e.logger.Warn("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.AttemptsMade),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
}

func (e *Executor) fail(ctx context.Context, j *job.Job, claim job.Claim, cause error) {
	failed, err := e.store.FailJob(ctx, claim, cause.Error(), e.now())
	if err != nil {
		e.logTransitionError("fail", j, err)
		return
	}
	*j = *failed

	e.extensions.EmitJobFailed(ctx, j, cause)
	e.logger.Error("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.AttemptsMade),
		slog.Bool("permanent", job.IsPermanent(cause)),
		slog.String("error", cause.Error()),
	)
}

// RecoverStalled routes an active job whose worker stopped heartbeating
// through the retry policy, as if its attempt had failed with
// ReasonStalled. The transition is fenced on the attempt j was listed at
// and on its heartbeat still being older than staleBefore, so a job that
// was claimed again or heartbeated since the scan is left alone. Losing
// that race is not an error and fires no hooks.
func (e *Executor) RecoverStalled(ctx context.Context, j *job.Job, staleBefore time.Time) {
	claim := j.Claim()
	claim.StaleBefore = staleBefore

	e.logger.Warn("recovering stalled job",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.AttemptsMade),
	)
	snapshot := *j
	e.handleFailure(ctx, j, claim, errors.New(ReasonStalled))
	if j.Status != job.StatusActive {
		e.extensions.EmitJobStalled(ctx, &snapshot)
	}
}

// logTransitionError logs a failed terminal transition. ErrInvalidTransition
// means another party already moved the job, so no hooks fire.
func (e *Executor) logTransitionError(op string, j *job.Job, err error) {
	if errors.Is(err, spool.ErrInvalidTransition) || errors.Is(err, spool.ErrJobNotFound) {
		e.logger.Warn("job no longer active, outcome discarded",
			slog.String("op", op),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Error("failed to record job outcome",
		slog.String("op", op),
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
}

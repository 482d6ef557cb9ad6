package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/spool"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
)

const jobColumns = `
	id, queue, type, payload, status, priority, delay_until,
	attempts_made, max_attempts, progress, failure_reason, timeout,
	started_at, finished_at, heartbeat_at, created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spool_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`,
		j.ID.String(), j.Queue, j.Type, j.Payload, string(j.Status), j.Priority, j.DelayUntil,
		j.AttemptsMade, j.MaxAttempts, j.Progress, j.FailureReason, j.Timeout.Nanoseconds(),
		j.StartedAt, j.FinishedAt, j.HeartbeatAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return spool.ErrJobAlreadyExists
		}
		return fmt.Errorf("spool/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the first ready job of queue. The inner
// SELECT ... FOR UPDATE SKIP LOCKED lets concurrent claimers pass over rows
// another transaction already holds, so each job is handed out once.
func (s *Store) ClaimNext(ctx context.Context, queue string, now time.Time) (*job.Job, error) {
	now = now.UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE spool_jobs
		SET status = 'active',
		    attempts_made = attempts_made + 1,
		    started_at = $2,
		    heartbeat_at = $2,
		    finished_at = NULL,
		    updated_at = $2
		WHERE id = (
			SELECT id FROM spool_jobs
			WHERE queue = $1
			  AND (status = 'waiting' OR (status = 'delayed' AND delay_until <= $2))
			  AND NOT EXISTS (SELECT 1 FROM spool_queues WHERE name = $1 AND paused)
			ORDER BY priority ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING`+jobColumns,
		queue, now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("spool/postgres: claim job: %w", err)
	}
	return j, nil
}

// transition runs a conditional UPDATE that only matches a job in status
// from.
func (s *Store) transition(ctx context.Context, jobID id.JobID, from job.Status, set string, args ...any) (*job.Job, error) {
	args = append([]any{jobID.String(), string(from)}, args...)
	row := s.pool.QueryRow(ctx,
		`UPDATE spool_jobs SET `+set+` WHERE id = $1 AND status = $2 RETURNING`+jobColumns,
		args...,
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("spool/postgres: transition job: %w", err)
	}
	return nil, s.missOrInvalid(ctx, jobID)
}

// missOrInvalid tells a missing job apart from one a conditional UPDATE
// did not match.
func (s *Store) missOrInvalid(ctx context.Context, jobID id.JobID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM spool_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("spool/postgres: transition job: %w", err)
	}
	if !exists {
		return spool.ErrJobNotFound
	}
	return spool.ErrInvalidTransition
}

// claimed runs a conditional UPDATE that only matches the job while c
// still holds it: active on c.Attempt and, when c.StaleBefore is set, with
// a heartbeat older than it. The set clause numbers its arguments from $4.
func (s *Store) claimed(ctx context.Context, c job.Claim, set string, args ...any) (*job.Job, error) {
	var staleBefore *time.Time
	if !c.StaleBefore.IsZero() {
		t := c.StaleBefore.UTC()
		staleBefore = &t
	}
	args = append([]any{c.ID.String(), c.Attempt, staleBefore}, args...)
	row := s.pool.QueryRow(ctx, `
		UPDATE spool_jobs SET `+set+`
		WHERE id = $1 AND status = 'active' AND attempts_made = $2
		  AND ($3::timestamptz IS NULL OR heartbeat_at < $3)
		RETURNING`+jobColumns,
		args...,
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("spool/postgres: transition job: %w", err)
	}
	return nil, s.missOrInvalid(ctx, c.ID)
}

// CompleteJob moves the job held by c to completed.
func (s *Store) CompleteJob(ctx context.Context, c job.Claim, now time.Time) (*job.Job, error) {
	return s.claimed(ctx, c,
		`status = 'completed', progress = 100, finished_at = $4, updated_at = $4`,
		now.UTC(),
	)
}

// FailJob moves the job held by c to failed.
func (s *Store) FailJob(ctx context.Context, c job.Claim, reason string, now time.Time) (*job.Job, error) {
	return s.claimed(ctx, c,
		`status = 'failed', failure_reason = $4, finished_at = $5, updated_at = $5`,
		reason, now.UTC(),
	)
}

// RequeueJob moves the job held by c to delayed.
func (s *Store) RequeueJob(ctx context.Context, c job.Claim, reason string, delayUntil time.Time) (*job.Job, error) {
	return s.claimed(ctx, c,
		`status = 'delayed', failure_reason = $4, delay_until = $5,
		 heartbeat_at = NULL, updated_at = NOW()`,
		reason, delayUntil.UTC(),
	)
}

// RetryJob moves a failed job back to waiting with a fresh attempt budget.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	return s.transition(ctx, jobID, job.StatusFailed,
		`status = 'waiting', attempts_made = 0, progress = 0, failure_reason = '',
		 delay_until = NULL, started_at = NULL, finished_at = NULL,
		 heartbeat_at = NULL, updated_at = $3`,
		now.UTC(),
	)
}

// UpdateProgress sets progress on the job held by c.
func (s *Store) UpdateProgress(ctx context.Context, c job.Claim, pct int) error {
	_, err := s.claimed(ctx, c, `progress = $4`, pct)
	return err
}

// HeartbeatJob refreshes the heartbeat of the job held by c.
func (s *Store) HeartbeatJob(ctx context.Context, c job.Claim, now time.Time) error {
	_, err := s.claimed(ctx, c, `heartbeat_at = $4`, now.UTC())
	return err
}

// ListStaleJobs returns active jobs whose heartbeat is older than before.
func (s *Store) ListStaleJobs(ctx context.Context, queue string, before time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM spool_jobs
		WHERE queue = $1 AND status = 'active' AND heartbeat_at < $2
		ORDER BY heartbeat_at ASC`,
		queue, before.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM spool_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, spool.ErrJobNotFound
		}
		return nil, fmt.Errorf("spool/postgres: get job: %w", err)
	}
	return j, nil
}

// listOrder returns the ORDER BY clause ListJobs uses for status.
func listOrder(status job.Status) string {
	switch status {
	case job.StatusWaiting:
		return `priority ASC, created_at ASC, id ASC`
	case job.StatusDelayed:
		return `delay_until ASC, priority ASC, created_at ASC, id ASC`
	case job.StatusActive:
		return `started_at DESC, id DESC`
	default:
		return `finished_at DESC, id DESC`
	}
}

// ListJobs returns jobs of queue in status within the inclusive range.
func (s *Store) ListJobs(ctx context.Context, queue string, status job.Status, start, end int) ([]*job.Job, error) {
	if start < 0 {
		start = 0
	}
	if end >= 0 && end < start {
		return []*job.Job{}, nil
	}

	limit := "ALL"
	if end >= 0 {
		limit = fmt.Sprintf("%d", end-start+1)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM spool_jobs
		WHERE queue = $1 AND status = $2
		ORDER BY `+listOrder(status)+`
		LIMIT `+limit+` OFFSET $3`,
		queue, string(status), start,
	)
	if err != nil {
		return nil, fmt.Errorf("spool/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns per-status counts for queue.
func (s *Store) CountJobs(ctx context.Context, queue string) (job.Counts, error) {
	var c job.Counts

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM spool_jobs WHERE queue = $1 GROUP BY status`,
		queue,
	)
	if err != nil {
		return c, fmt.Errorf("spool/postgres: count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return c, fmt.Errorf("spool/postgres: scan count: %w", err)
		}
		c.Add(job.Status(status), n)
	}
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("spool/postgres: count jobs rows: %w", err)
	}
	return c, nil
}

// CleanJobs removes terminal jobs finished before the given time.
func (s *Store) CleanJobs(ctx context.Context, queue string, status job.Status, before time.Time) (int64, error) {
	if !status.Terminal() {
		return 0, spool.ErrInvalidTransition
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM spool_jobs
		WHERE queue = $1 AND status = $2 AND finished_at < $3`,
		queue, string(status), before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("spool/postgres: clean jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetPaused toggles the paused flag of queue.
func (s *Store) SetPaused(ctx context.Context, queue string, paused bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spool_queues (name, paused, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET paused = EXCLUDED.paused, updated_at = NOW()`,
		queue, paused,
	)
	if err != nil {
		return fmt.Errorf("spool/postgres: set paused: %w", err)
	}
	return nil
}

// IsPaused reports the paused flag of queue.
func (s *Store) IsPaused(ctx context.Context, queue string) (bool, error) {
	var paused bool
	err := s.pool.QueryRow(ctx,
		`SELECT paused FROM spool_queues WHERE name = $1`, queue,
	).Scan(&paused)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("spool/postgres: is paused: %w", err)
	}
	return paused, nil
}

// ──────────────────────────────────────────────────
// Scan helpers
// ──────────────────────────────────────────────────

// scanJob scans a single row into a job.Job.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
		timeoutNs int64
	)

	err := row.Scan(
		&idStr, &j.Queue, &j.Type, &j.Payload, &statusStr, &j.Priority, &j.DelayUntil,
		&j.AttemptsMade, &j.MaxAttempts, &j.Progress, &j.FailureReason, &timeoutNs,
		&j.StartedAt, &j.FinishedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.ID = parsed
	j.Status = job.Status(statusStr)
	j.Timeout = time.Duration(timeoutNs)

	return &j, nil
}

// collectJobs scans all rows into a slice of jobs.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("spool/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spool/postgres: rows: %w", err)
	}
	return jobs, nil
}

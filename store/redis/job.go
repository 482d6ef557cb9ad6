package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/spool"
	"github.com/xraph/spool/id"
	"github.com/xraph/spool/job"
)

// cleanBatch bounds how many jobs one clean script invocation removes.
const cleanBatch = 500

// EnqueueJob stores the job as a Hash and adds it to its status set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("spool/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return spool.ErrJobAlreadyExists
	}

	var member goredis.Z
	switch j.Status {
	case job.StatusDelayed:
		if j.DelayUntil == nil {
			return fmt.Errorf("spool/redis: enqueue delayed job without delay_until: %w", spool.ErrInvalidTransition)
		}
		member = goredis.Z{Score: float64(j.DelayUntil.UnixMilli()), Member: jID}
	case job.StatusWaiting:
		member = goredis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: jID}
	default:
		return fmt.Errorf("spool/redis: enqueue job in status %q: %w", j.Status, spool.ErrInvalidTransition)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.ZAdd(ctx, statusKey(j.Queue, string(j.Status)), member)
	pipe.SAdd(ctx, queuesKey, j.Queue)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("spool/redis: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext runs the claim script against queue.
func (s *Store) ClaimNext(ctx context.Context, queue string, now time.Time) (*job.Job, error) {
	now = now.UTC()
	keys := []string{
		statusKey(queue, string(job.StatusWaiting)),
		statusKey(queue, string(job.StatusDelayed)),
		statusKey(queue, string(job.StatusActive)),
		pausedKey,
	}
	res, err := claimScript.Run(ctx, s.client, keys, queue, now.UnixMilli(), formatTime(now), jobKeyPrefix).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spool/redis: claim: %w", err)
	}
	jID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("spool/redis: claim: unexpected reply %T", res)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// fence is the optional claim check passed to transitionScript.
type fence struct {
	attempt     string
	staleBefore string
}

func fenceOf(c job.Claim) fence {
	f := fence{attempt: strconv.Itoa(c.Attempt)}
	if !c.StaleBefore.IsZero() {
		f.staleBefore = strconv.FormatInt(c.StaleBefore.UnixMilli(), 10)
	}
	return f
}

// transition moves jobID from one status to another via transitionScript.
func (s *Store) transition(ctx context.Context, jobID id.JobID, f fence, from, to job.Status, score float64, fields ...string) (*job.Job, error) {
	key := jobKey(jobID.String())
	queue, err := s.client.HGet(ctx, key, "queue").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, spool.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("spool/redis: %s job: %w", to, err)
	}

	args := make([]interface{}, 0, 5+len(fields))
	args = append(args, string(from), string(to), score, f.attempt, f.staleBefore)
	for _, fv := range fields {
		args = append(args, fv)
	}
	keys := []string{key, statusKey(queue, string(from)), statusKey(queue, string(to))}
	if err := transitionScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return nil, scriptErr(string(to), err)
	}
	return s.getJobByKey(ctx, key)
}

// CompleteJob moves the job held by c to completed.
func (s *Store) CompleteJob(ctx context.Context, c job.Claim, now time.Time) (*job.Job, error) {
	ts := formatTime(now)
	return s.transition(ctx, c.ID, fenceOf(c), job.StatusActive, job.StatusCompleted, float64(now.UnixMilli()),
		"progress", "100", "finished_at", ts, "updated_at", ts)
}

// FailJob moves the job held by c to failed.
func (s *Store) FailJob(ctx context.Context, c job.Claim, reason string, now time.Time) (*job.Job, error) {
	ts := formatTime(now)
	return s.transition(ctx, c.ID, fenceOf(c), job.StatusActive, job.StatusFailed, float64(now.UnixMilli()),
		"failure_reason", reason, "finished_at", ts, "updated_at", ts)
}

// RequeueJob moves the job held by c to delayed.
func (s *Store) RequeueJob(ctx context.Context, c job.Claim, reason string, delayUntil time.Time) (*job.Job, error) {
	return s.transition(ctx, c.ID, fenceOf(c), job.StatusActive, job.StatusDelayed, float64(delayUntil.UnixMilli()),
		"failure_reason", reason, "delay_until", formatTime(delayUntil), "heartbeat_at", "",
		"updated_at", formatTime(time.Now()))
}

// RetryJob moves a failed job back to waiting with a fresh attempt budget.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	key := jobKey(jobID.String())
	score, err := s.client.HGet(ctx, key, "score").Float64()
	if errors.Is(err, goredis.Nil) {
		return nil, spool.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("spool/redis: retry job score: %w", err)
	}
	return s.transition(ctx, jobID, fence{}, job.StatusFailed, job.StatusWaiting, score,
		"attempts_made", "0", "progress", "0", "failure_reason", "", "delay_until", "",
		"started_at", "", "finished_at", "", "heartbeat_at", "", "updated_at", formatTime(now))
}

// UpdateProgress sets progress on the job held by c.
func (s *Store) UpdateProgress(ctx context.Context, c job.Claim, pct int) error {
	return s.touch(ctx, c, "progress", strconv.Itoa(pct), "")
}

// HeartbeatJob refreshes the heartbeat of an active job and its rank in
// the active set, which ListStaleJobs scans by score.
func (s *Store) HeartbeatJob(ctx context.Context, c job.Claim, now time.Time) error {
	return s.touch(ctx, c, "heartbeat_at", formatTime(now), strconv.FormatInt(now.UnixMilli(), 10))
}

func (s *Store) touch(ctx context.Context, c job.Claim, field, value, score string) error {
	key := jobKey(c.ID.String())
	queue, err := s.client.HGet(ctx, key, "queue").Result()
	if errors.Is(err, goredis.Nil) {
		return spool.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("spool/redis: touch %s: %w", field, err)
	}
	keys := []string{key, statusKey(queue, string(job.StatusActive))}
	if err := touchScript.Run(ctx, s.client, keys, field, value, score, strconv.Itoa(c.Attempt)).Err(); err != nil {
		return scriptErr(field, err)
	}
	return nil
}

// ListStaleJobs returns active jobs whose heartbeat is older than before.
func (s *Store) ListStaleJobs(ctx context.Context, queue string, before time.Time) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, statusKey(queue, string(job.StatusActive)), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list stale: %w", err)
	}
	return s.getJobs(ctx, ids, job.StatusActive)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// ListJobs returns jobs of queue in status within the inclusive range.
func (s *Store) ListJobs(ctx context.Context, queue string, status job.Status, start, end int) ([]*job.Job, error) {
	if start < 0 {
		start = 0
	}
	stop := int64(end)
	if end < 0 {
		stop = -1
	} else if end < start {
		return []*job.Job{}, nil
	}

	key := statusKey(queue, string(status))
	var (
		ids []string
		err error
	)
	switch status {
	case job.StatusWaiting, job.StatusDelayed:
		ids, err = s.client.ZRange(ctx, key, int64(start), stop).Result()
	default:
		ids, err = s.client.ZRevRange(ctx, key, int64(start), stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("spool/redis: list jobs: %w", err)
	}
	return s.getJobs(ctx, ids, "")
}

// CountJobs returns per-status counts for queue.
func (s *Store) CountJobs(ctx context.Context, queue string) (job.Counts, error) {
	pipe := s.client.Pipeline()
	cmds := make(map[job.Status]*goredis.IntCmd, len(job.Statuses))
	for _, st := range job.Statuses {
		cmds[st] = pipe.ZCard(ctx, statusKey(queue, string(st)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return job.Counts{}, fmt.Errorf("spool/redis: count jobs: %w", err)
	}

	var c job.Counts
	for st, cmd := range cmds {
		c.Add(st, cmd.Val())
	}
	return c, nil
}

// CleanJobs removes terminal jobs finished before the given time.
func (s *Store) CleanJobs(ctx context.Context, queue string, status job.Status, before time.Time) (int64, error) {
	if !status.Terminal() {
		return 0, spool.ErrInvalidTransition
	}

	keys := []string{statusKey(queue, string(status))}
	var total int64
	for {
		n, err := cleanScript.Run(ctx, s.client, keys, before.UnixMilli(), jobKeyPrefix, cleanBatch).Int64()
		if err != nil {
			return total, fmt.Errorf("spool/redis: clean jobs: %w", err)
		}
		total += n
		if n < cleanBatch {
			return total, nil
		}
	}
}

// SetPaused toggles the paused flag of queue.
func (s *Store) SetPaused(ctx context.Context, queue string, paused bool) error {
	var err error
	if paused {
		err = s.client.SAdd(ctx, pausedKey, queue).Err()
	} else {
		err = s.client.SRem(ctx, pausedKey, queue).Err()
	}
	if err != nil {
		return fmt.Errorf("spool/redis: set paused: %w", err)
	}
	return nil
}

// IsPaused reports the paused flag of queue.
func (s *Store) IsPaused(ctx context.Context, queue string) (bool, error) {
	paused, err := s.client.SIsMember(ctx, pausedKey, queue).Result()
	if err != nil {
		return false, fmt.Errorf("spool/redis: is paused: %w", err)
	}
	return paused, nil
}

// ── helpers ──

// jobScore computes the waiting-set score from priority and creation time.
// Lower score = claimed first. Priority dominates; creation milliseconds
// break ties, and Redis orders equal scores by member, which for
// time-ordered IDs keeps FIFO within one millisecond. Scores stay exact
// in a float64 for priorities within job.MinPriority..job.MaxPriority,
// which queue.Enqueue enforces.
func jobScore(priority int, createdAt time.Time) float64 {
	return float64(priority)*1e13 + float64(createdAt.UnixMilli())
}

// scriptErr maps error replies from the transition scripts to sentinels.
// Servers differ in whether they prefix script error replies with "ERR",
// so the marker is matched anywhere in the message.
func scriptErr(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NOTFOUND"):
		return spool.ErrJobNotFound
	case strings.Contains(msg, "INVALID"):
		return spool.ErrInvalidTransition
	default:
		return fmt.Errorf("spool/redis: %s: %w", op, err)
	}
}

func (s *Store) getJobs(ctx context.Context, ids []string, status job.Status) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, err := s.getJobByKey(ctx, jobKey(jID))
		if errors.Is(err, spool.ErrJobNotFound) {
			continue // cleaned concurrently
		}
		if err != nil {
			return nil, err
		}
		if status != "" && j.Status != status {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func jobToMap(j *job.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":             j.ID.String(),
		"queue":          j.Queue,
		"type":           j.Type,
		"payload":        string(j.Payload),
		"status":         string(j.Status),
		"priority":       strconv.Itoa(j.Priority),
		"score":          strconv.FormatFloat(jobScore(j.Priority, j.CreatedAt), 'f', -1, 64),
		"attempts_made":  strconv.Itoa(j.AttemptsMade),
		"max_attempts":   strconv.Itoa(j.MaxAttempts),
		"progress":       strconv.Itoa(j.Progress),
		"failure_reason": j.FailureReason,
		"timeout":        strconv.FormatInt(int64(j.Timeout), 10),
		"delay_until":    formatTimePtr(j.DelayUntil),
		"started_at":     formatTimePtr(j.StartedAt),
		"finished_at":    formatTimePtr(j.FinishedAt),
		"heartbeat_at":   formatTimePtr(j.HeartbeatAt),
		"created_at":     formatTime(j.CreatedAt),
		"updated_at":     formatTime(j.UpdatedAt),
	}
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("spool/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, spool.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("spool/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts_made"])      //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])           //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	return &job.Job{
		Entity: spool.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:            jID,
		Queue:         m["queue"],
		Type:          m["type"],
		Payload:       []byte(m["payload"]),
		Status:        job.Status(m["status"]),
		Priority:      priority,
		AttemptsMade:  attempts,
		MaxAttempts:   maxAttempts,
		Progress:      progress,
		FailureReason: m["failure_reason"],
		Timeout:       time.Duration(timeout),
		DelayUntil:    parseTimePtr(m["delay_until"]),
		StartedAt:     parseTimePtr(m["started_at"]),
		FinishedAt:    parseTimePtr(m["finished_at"]),
		HeartbeatAt:   parseTimePtr(m["heartbeat_at"]),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}

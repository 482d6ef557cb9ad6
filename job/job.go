package job

import (
	"time"

	"github.com/xraph/spool"
	"github.com/xraph/spool/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusWaiting means the job is ready to be claimed by a worker.
	StatusWaiting Status = "waiting"
	// StatusActive means a worker currently holds the job.
	StatusActive Status = "active"
	// StatusDelayed means the job is not eligible before DelayUntil.
	StatusDelayed Status = "delayed"
	// StatusCompleted means the handler succeeded. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the job exhausted its attempts or failed
	// permanently. Terminal unless manually retried.
	StatusFailed Status = "failed"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Job represents a unit of deferred work.
type Job struct {
	spool.Entity

	ID            id.JobID      `json:"id"`
	Queue         string        `json:"queue"`
	Type          string        `json:"type"`
	Payload       []byte        `json:"payload"`
	Status        Status        `json:"status"`
	Priority      int           `json:"priority"`
	DelayUntil    *time.Time    `json:"delay_until,omitempty"`
	AttemptsMade  int           `json:"attempts_made"`
	MaxAttempts   int           `json:"max_attempts"`
	Progress      int           `json:"progress"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	HeartbeatAt   *time.Time    `json:"heartbeat_at,omitempty"`
}

// Ready reports whether the job may be claimed at now.
func (j *Job) Ready(now time.Time) bool {
	switch j.Status {
	case StatusWaiting:
		return true
	case StatusDelayed:
		return j.DelayUntil == nil || !j.DelayUntil.After(now)
	default:
		return false
	}
}

// Before reports whether j is served before other: lower priority value
// first, then earlier creation, then lower ID.
func (j *Job) Before(other *Job) bool {
	if j.Priority != other.Priority {
		return j.Priority < other.Priority
	}
	if !j.CreatedAt.Equal(other.CreatedAt) {
		return j.CreatedAt.Before(other.CreatedAt)
	}
	return j.ID.String() < other.ID.String()
}

// Counts holds per-status job counts for one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Add increments the counter for s.
func (c *Counts) Add(s Status, n int64) {
	switch s {
	case StatusWaiting:
		c.Waiting += n
	case StatusActive:
		c.Active += n
	case StatusDelayed:
		c.Delayed += n
	case StatusCompleted:
		c.Completed += n
	case StatusFailed:
		c.Failed += n
	}
}

// Claim names one attempt of an active job. Transitions out of active are
// fenced on it: they apply only while the job is still on Attempt, so a
// worker or reaper acting on an older claim cannot move a job that has
// since been claimed again.
type Claim struct {
	ID      id.JobID
	Attempt int

	// StaleBefore, when non-zero, additionally requires the job's heartbeat
	// to be older than it. The reaper sets it so a job whose worker
	// heartbeated after the stale scan is left alone.
	StaleBefore time.Time
}

// Claim returns the claim held on j's current attempt.
func (j *Job) Claim() Claim {
	return Claim{ID: j.ID, Attempt: j.AttemptsMade}
}

// Holds reports whether the claim still matches j.
func (c Claim) Holds(j *Job) bool {
	if j.Status != StatusActive || j.AttemptsMade != c.Attempt {
		return false
	}
	if !c.StaleBefore.IsZero() {
		return j.HeartbeatAt != nil && j.HeartbeatAt.Before(c.StaleBefore)
	}
	return true
}

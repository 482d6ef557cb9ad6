package spool

import "time"

// Config holds engine-wide configuration. Per-queue settings live in
// queue.Config and override the retry defaults below when set.
type Config struct {
	// PollInterval is how often an idle worker polls its queue for work.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on stop.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often active jobs have their heartbeat refreshed.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long an active job may go without a heartbeat
	// before it is considered abandoned by a crashed worker.
	StaleJobThreshold time.Duration

	// DefaultMaxAttempts is the attempt budget for jobs enqueued without one.
	DefaultMaxAttempts int

	// BackoffBase is the delay before the second attempt. Each later attempt
	// doubles it.
	BackoffBase time.Duration

	// DefaultTimeout bounds a single handler invocation. Zero means unbounded.
	DefaultTimeout time.Duration

	// ArtifactRetention is how long a completed export artifact stays
	// downloadable.
	ArtifactRetention time.Duration

	// SweepSchedule is the cron expression that drives the cleanup sweeper.
	SweepSchedule string

	// CompletedGrace and FailedGrace control how long terminal jobs are kept
	// before the sweeper cleans them. Zero disables cleaning for that status.
	CompletedGrace time.Duration
	FailedGrace    time.Duration

	// ReconcileGrace is how long a failed export job must have been
	// finished before a sweep re-drives its failure handling.
	ReconcileGrace time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleJobThreshold:  60 * time.Second,
		DefaultMaxAttempts: 3,
		BackoffBase:        2 * time.Second,
		ArtifactRetention:  7 * 24 * time.Hour,
		SweepSchedule:      "@every 1h",
		CompletedGrace:     24 * time.Hour,
		FailedGrace:        7 * 24 * time.Hour,
		ReconcileGrace:     time.Minute,
	}
}

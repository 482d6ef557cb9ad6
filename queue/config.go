package queue

import (
	"time"

	"github.com/xraph/spool"
)

// Config defines per-queue behaviour.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// Concurrency is the number of worker slots the local pool runs for
	// this queue. Defaults to 1.
	Concurrency int

	// RateLimit is the maximum sustained claims per second from this queue.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxAttempts overrides spool.Config.DefaultMaxAttempts for jobs
	// enqueued on this queue without an explicit budget.
	MaxAttempts int

	// BackoffBase overrides spool.Config.BackoffBase for this queue.
	BackoffBase time.Duration

	// Timeout overrides spool.Config.DefaultTimeout for this queue.
	Timeout time.Duration
}

// withDefaults fills zero fields from the engine-wide configuration.
func (c Config) withDefaults(cfg spool.Config) Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = cfg.DefaultMaxAttempts
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = cfg.BackoffBase
	}
	if c.Timeout <= 0 {
		c.Timeout = cfg.DefaultTimeout
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// DefaultConfigs returns the static queue list a stock deployment runs.
func DefaultConfigs() []Config {
	return []Config{
		{Name: "exports", Concurrency: 2},
		{Name: "notifications", Concurrency: 5},
		{Name: "ai-processing", Concurrency: 2},
	}
}

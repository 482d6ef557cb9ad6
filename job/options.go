package job

import "time"

// Priority bounds accepted by enqueue. Stores fold priority into an ordered
// score, which is exact only inside this range.
const (
	MinPriority = -900
	MaxPriority = 900
)

// Options configures a single enqueue call.
type Options struct {
	// Priority determines claim ordering. Lower values are served first.
	// It must lie within [MinPriority, MaxPriority].
	Priority int

	// Delay postpones eligibility. Zero means the job is ready immediately.
	Delay time.Duration

	// MaxAttempts is the attempt budget. Zero means the queue default.
	MaxAttempts int

	// Timeout bounds a single handler invocation. Zero means the queue default.
	Timeout time.Duration
}

// Option is a functional option for an enqueue call.
type Option func(*Options)

// WithPriority sets the job priority. Lower values are served first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithDelay postpones the job by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout sets the maximum execution duration of one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// Apply builds Options from opts.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

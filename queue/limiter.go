package queue

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates claims from one queue with a token bucket. A nil *Limiter
// never limits.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter returns a Limiter allowing limit claims per second with the
// given burst, or nil when limit is zero.
func NewLimiter(limit float64, burst int) *Limiter {
	if limit <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(limit), burst)}
}

// Allow reports whether a claim may happen now, consuming a token if so.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a claim may happen or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Package backoff provides the retry decision policy for failed jobs and the
// delay strategies it is built on. Everything here is pure and safe for
// concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed)
	// before the next attempt may start.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = Initial * 2^(attempt-1), capped at Max when Max is non-zero.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max. Attempts below 1
// are treated as 1. The result saturates instead of overflowing.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Decision is the outcome of applying the retry policy to a failed attempt.
type Decision struct {
	// Retry is true when the job should be requeued as delayed.
	Retry bool
	// Delay is how long the requeued job must wait. Zero when Retry is false.
	Delay time.Duration
}

// Decide applies the retry policy after a failed attempt. attemptsMade
// counts the attempt that just failed. While attemptsMade < maxAttempts the
// job is retried after base * 2^(attemptsMade-1); otherwise it fails
// terminally.
func Decide(attemptsMade, maxAttempts int, base time.Duration) Decision {
	return DecideWith(NewExponential(base, 0), attemptsMade, maxAttempts)
}

// DecideWith is Decide with an explicit delay strategy.
func DecideWith(s Strategy, attemptsMade, maxAttempts int) Decision {
	if attemptsMade >= maxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: s.Delay(attemptsMade)}
}

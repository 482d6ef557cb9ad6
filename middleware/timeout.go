package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/spool/job"
)

// abandonGrace is how long Timeout keeps waiting for a handler after its
// deadline before the attempt is given up on.
const abandonGrace = 250 * time.Millisecond

// result is how a handler goroutine ended.
type result struct {
	err      error
	panicked bool
	value    any
}

// Timeout returns middleware that bounds one attempt by j.Timeout. A handler
// that overruns gets a cancelled context and its attempt fails with an error
// wrapping context.DeadlineExceeded, which the retry policy treats like any
// other failure.
//
// A handler that ignores its context is abandoned abandonGrace after the
// deadline: the attempt is recorded as timed out while the handler keeps
// running in the background, and whatever it returns later is discarded.
// Handlers with side effects must honour ctx to avoid overlapping a retry.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			var r result
			defer func() {
				if p := recover(); p != nil {
					r = result{panicked: true, value: p}
				}
				done <- r
			}()
			r.err = next(ctx)
		}()

		var r result
		select {
		case r = <-done:
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// Cancelled from outside: wait for the handler to wind down.
				r = <-done
				break
			}
			grace := time.NewTimer(abandonGrace)
			select {
			case r = <-done:
				grace.Stop()
			case <-grace.C:
				logger.Error("job handler ignored its deadline, abandoning attempt",
					slog.String("job_id", j.ID.String()),
					slog.Duration("timeout", j.Timeout),
				)
				go drain(logger, j, done)
				r.err = context.DeadlineExceeded
			}
		}
		if r.panicked {
			// Re-raised on the attempt goroutine so Recover sees it.
			panic(r.value)
		}

		err := r.err
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("job attempt timed out",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			if !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
			}
			return fmt.Errorf("job %s timed out after %s: %w", j.Type, j.Timeout, err)
		}
		return err
	}
}

// drain waits for an abandoned handler and logs how it ended.
func drain(logger *slog.Logger, j *job.Job, done <-chan result) {
	r := <-done
	attrs := []any{slog.String("job_id", j.ID.String())}
	switch {
	case r.panicked:
		attrs = append(attrs, slog.Any("panic", r.value))
	case r.err != nil:
		attrs = append(attrs, slog.String("error", r.err.Error()))
	}
	logger.Warn("abandoned job handler returned, result discarded", attrs...)
}

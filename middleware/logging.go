package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/spool/job"
)

// Logging returns middleware that logs each attempt's start and outcome.
// Starts log at debug; failures at warn since the executor decides whether
// the failure is terminal.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptsMade),
			slog.Int("max_attempts", j.MaxAttempts),
		}
		logger.Debug("job attempt started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Warn("job attempt failed",
				append(attrs,
					slog.String("outcome", outcome(err)),
					slog.String("error", err.Error()),
				)...,
			)
			return err
		}

		logger.Info("job attempt succeeded", attrs...)
		return nil
	}
}

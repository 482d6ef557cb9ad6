package middleware

import (
	"context"

	"github.com/xraph/spool/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// context of the attempt, the claimed job and the next handler to call.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper:
//
//	Chain(a, b, c) runs a → b → c → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}

// outcome classifies a handler result for logs and metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case job.IsPermanent(err):
		return "permanent"
	default:
		return "error"
	}
}

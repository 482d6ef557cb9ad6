package job

import "context"

// Progress lets a running handler report completion percentage (0-100).
// Reports are advisory and never change the job status.
type Progress func(pct int)

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the handler discriminator stored on each job.
	Type string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload T, progress Progress) error
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T, progress Progress) error) *Definition[T] {
	return &Definition[T]{
		Type:    jobType,
		Handler: handler,
	}
}

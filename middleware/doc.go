// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps the call into a registered job handler. Middleware are
// composed with [Chain] and applied right-to-left: the first middleware in
// the slice is the outermost wrapper.
//
//	// recover → timeout → logging → handler
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Timeout(logger),
//	    middleware.Logging(logger),
//	)
//
// # Built-in Middleware
//
//   - [Recover]: turns handler panics into ordinary, retryable errors
//   - [Timeout]: bounds one attempt by the job's Timeout
//   - [Logging]: logs type, queue, attempt, duration and outcome
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-type duration and outcome
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware

// Package observability provides an OpenTelemetry metrics extension for
// Spool. MetricsExtension implements lifecycle hooks to record system-wide
// counters for job enqueue, completion, failure, retry, stall recovery and
// artifact expiry.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

// Package observability provides a metrics extension for courier. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for job enqueue, start, completion, failure, retry and dead
// lettering.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

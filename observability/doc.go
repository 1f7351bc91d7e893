// Package observability wires OpenTelemetry tracing and metrics for the
// voxpipe service. Both signals export over OTLP/HTTP; Init sets the global
// providers and returns a single shutdown function.
//
// Domain metrics cover the job queue: jobs by terminal status, wall-clock
// job duration, provider attempts, and the number of active runs. The
// JobRecorder observes queue events, so the queue itself stays free of
// metric plumbing.
package observability

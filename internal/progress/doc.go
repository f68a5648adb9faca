// Package progress carries run lifecycle and per-unit telemetry from the
// orchestrator to observability sinks. A non-blocking Hub batches events on
// a background goroutine and fans them out to sinks such as Prometheus or
// structured logs. It is not the source of truth for run state; the run store
// is.
package progress

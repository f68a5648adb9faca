// Package sinks implements concrete progress consumers for Prometheus and
// structured logging. Each sink satisfies progress.Sink.
package sinks

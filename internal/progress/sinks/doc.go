// Package sinks implements concrete progress consumers: Prometheus collectors,
// the run repository, and structured logging. Each sink satisfies
// progress.Sink.
package sinks

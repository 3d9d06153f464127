// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the batch coordinator and item workers use to report run
// progress. Events are batched on a background goroutine and fanned out to
// pluggable sinks such as Prometheus metrics, logs, or the run repository.
package progress

// Package progress carries job lifecycle and per-unit progress events from
// workers to pluggable sinks. Emit never blocks; events are batched on a
// background goroutine and fanned out to sinks such as structured logging
// or Prometheus.
package progress

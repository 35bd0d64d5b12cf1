// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that scan jobs use to report progress. The hub delivers
// events immediately to per-job subscribers for live streaming, and batches
// them on a background goroutine for pluggable sinks such as Prometheus
// metrics, the archive store, or alert publishing.
package progress

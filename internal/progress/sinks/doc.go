// Package sinks implements concrete scan event consumers such as Prometheus,
// the archive repository, alert publishing, and structured logging. Each sink
// satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks

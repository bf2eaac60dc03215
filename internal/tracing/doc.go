// Package tracing provides engine.Tracer sinks.
//
//   - Logging writes engine decisions to a *slog.Logger.
//   - OTel opens a span per build and per task execution and counts
//     executions through an OpenTelemetry meter.
//   - Metrics exports Prometheus counters and histograms.
//   - Recorder keeps an in-memory, sequence-numbered event log for tests
//     and golden traces.
//
// Multi combines sinks. All sinks are safe for concurrent use.
package tracing

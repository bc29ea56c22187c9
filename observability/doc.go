// Package observability provides OpenTelemetry metrics and tracing
// extensions. The MetricsExtension records lifecycle counters and
// duration histograms for jobs and stages; the TracingExtension emits a
// span per finished stage and job.
//
// Both degrade to noops when no global provider is configured, so they
// can be registered unconditionally.
package observability

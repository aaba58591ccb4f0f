// Package telemetry provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and in-process lifecycle events for the workspace
// resource manager. Components receive child loggers scoped with flight and
// resource identity so operators can follow one flight across workers.
package telemetry

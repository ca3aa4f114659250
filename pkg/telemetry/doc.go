// Package telemetry provides structured logging (zerolog), Prometheus metrics,
// and OpenTelemetry tracing for the OpenMesa orchestration engine.
package telemetry

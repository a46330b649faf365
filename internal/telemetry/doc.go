// Package telemetry wraps OpenTelemetry SDK initialization, providing
// a single place to configure the TracerProvider and MeterProvider.
// When telemetry is disabled no exporters are created and the global
// providers stay noop.
package telemetry

// Package telemetry wires OpenTelemetry trace and metric providers for the
// learning pipeline.
//
// Telemetry is off by default. When enabled, spans and metrics are exported
// over OTLP (grpc or http/protobuf). Exporter failures never stop the
// process; the instance reports itself as degraded and falls back to the
// global no-op providers.
package telemetry

package telemetry

// Config selects the trace exporter target. It mirrors the telemetry
// section of the daemon settings.
type Config struct {
	// Enabled turns tracing on; off means a no-op tracer.
	Enabled bool

	// ServiceName names the daemon in the trace backend.
	ServiceName string

	// ServiceVersion is reported with every trace.
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string

	// Insecure skips TLS on the collector connection.
	Insecure bool

	// SampleRate is the head sampling rate from 0.0 to 1.0.
	SampleRate float64
}

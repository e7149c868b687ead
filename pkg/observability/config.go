package observability

import "log/slog"

// defaultShutdownTimeoutSec bounds telemetry flushing at process exit.
const defaultShutdownTimeoutSec = 10

// Config controls telemetry initialization.
type Config struct {
	// ServiceName is the service.name resource attribute.
	ServiceName string

	// ServiceVersion is the service.version resource attribute. Optional.
	ServiceVersion string

	// Environment is the deployment environment resource attribute. Optional.
	Environment string

	// OTLPEndpoint is the host:port of an OTLP gRPC collector. Empty disables
	// OTLP export entirely (no-op providers unless Prometheus is enabled).
	OTLPEndpoint string

	// OTLPInsecure disables TLS on the OTLP connection.
	OTLPInsecure bool

	// OTLPHeaders are extra headers sent with OTLP requests.
	OTLPHeaders map[string]string

	// PrometheusEnabled attaches a Prometheus reader to the meter provider;
	// the registry is exposed on Providers for scrape adapters.
	PrometheusEnabled bool

	// SampleRatio sets a parent-based TraceIDRatio sampler when positive.
	SampleRatio float64

	// LogLevel is the minimum level emitted by the logger.
	LogLevel slog.Level

	// LogJSON selects the JSON handler over the text handler.
	LogJSON bool

	// ShutdownTimeoutSec caps how long Shutdown may flush.
	ShutdownTimeoutSec int
}

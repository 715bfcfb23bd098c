package tracer

// Config configures the OpenTelemetry tracer provider.
type Config struct {
	// ServiceName is the service.name resource attribute.
	ServiceName string `mapstructure:"service_name"`

	// AppEnv is the deployment environment, e.g. "production".
	AppEnv string `mapstructure:"app_env"`

	// EnableExport sends spans to an OTLP HTTP collector. Without it spans
	// are created for propagation only.
	EnableExport bool `mapstructure:"enable_export"`

	// Endpoint is the collector host:port. Empty uses the
	// OTEL_EXPORTER_OTLP_ENDPOINT environment variable or the exporter default.
	Endpoint string `mapstructure:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure"`
}

const instrumentationName = "github.com/Aleph-Alpha/smallrabbit"

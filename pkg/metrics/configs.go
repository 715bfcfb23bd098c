package metrics

// Default port for metrics server if none is specified.
const DefaultMetricsAddress = ":9090"

// DefaultNamespace prefixes every metric registered by NewMetrics.
const DefaultNamespace = "smallrabbit"

// Config defines the configuration structure for the Prometheus metrics server.
type Config struct {
	// Address determines the network address where the Prometheus
	// metrics HTTP server listens. Empty disables the server; metrics are
	// still collected.
	//
	// Environment variable: METRICS_ADDRESS
	Address string `mapstructure:"address"`

	// EnableDefaultCollectors registers the Go runtime and process collectors.
	EnableDefaultCollectors bool `mapstructure:"enable_default_collectors"`

	// Namespace sets a global prefix for all metrics registered by this service.
	Namespace string `mapstructure:"namespace"`

	// ServiceName is added as the "service" label to every metric.
	ServiceName string `mapstructure:"service_name"`
}

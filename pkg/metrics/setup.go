package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationLabels = []string{"component", "operation", "resource", "status"}
	payloadLabels   = []string{"component", "operation", "resource"}

	// Handler attempts run up to an hour, dials are milliseconds.
	durationBuckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 300, 3600}
)

// Metrics owns a registry with the broker operation metrics and the HTTP
// server exposing it.
type Metrics struct {
	Server      *http.Server
	Registry    *prometheus.Registry
	serviceName string

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
	connected  *prometheus.GaugeVec
}

// NewMetrics registers the operation metrics under cfg.Namespace with a
// constant service label. The server is not started here.
func NewMetrics(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()

	wrappedRegistry := prometheus.WrapRegistererWith(prometheus.Labels{"service": cfg.ServiceName}, registry)
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	prefixed := prometheus.WrapRegistererWithPrefix(namespace+"_", wrappedRegistry)

	if cfg.EnableDefaultCollectors {
		wrappedRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	m := &Metrics{
		Registry:    registry,
		serviceName: cfg.ServiceName,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_total",
			Help: "Broker and dead letter operations by outcome.",
		}, operationLabels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "Duration of broker and dead letter operations.",
			Buckets: durationBuckets,
		}, operationLabels),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payload_bytes_total",
			Help: "Payload bytes published, handled or dead lettered.",
		}, payloadLabels),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connection_up",
			Help: "1 while the last connection attempt succeeded.",
		}, []string{"component"}),
	}
	prefixed.MustRegister(m.operations, m.duration, m.bytes, m.connected)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	m.Server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}
	return m
}

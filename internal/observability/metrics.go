package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and the relay's meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesWritten      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	Connections       prometheus.Gauge
	Announces         prometheus.Gauge
	Subscriptions     prometheus.Gauge
}

// NewMetrics creates a custom Prometheus registry with the relay metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moq_operation_duration_seconds",
		Help:    "Duration of relay operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moq_operation_total",
		Help: "Total number of relay operations.",
	}, []string{"operation", "status"})

	bytesWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moq_bytes_written_total",
		Help: "Bytes accepted by the transport, by delivery mode.",
	}, []string{"mode"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moq_errors_total",
		Help: "Total number of errors.",
	}, []string{"operation", "type"})

	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moq_connections_active",
		Help: "Open peer connections.",
	})

	announces := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moq_announces_active",
		Help: "Namespaces currently served from an upstream announce.",
	})

	subscriptions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moq_subscriptions_active",
		Help: "Subscriptions currently forwarded upstream.",
	})

	reg.MustRegister(opDuration, opTotal, bytesWritten, errorsTotal, connections, announces, subscriptions)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		BytesWritten:      bytesWritten,
		ErrorsTotal:       errorsTotal,
		Connections:       connections,
		Announces:         announces,
		Subscriptions:     subscriptions,
	}
}

// Error counts an error for operation.
func (m *Metrics) Error(operation, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(operation, kind).Inc()
}

// Track adds one to g and returns a function that removes it.
func Track(g prometheus.Gauge) func() {
	g.Inc()
	return g.Dec
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus instruments on a private registry
// so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	MessagesProcessed *prometheus.CounterVec
	ProcessingTime    *prometheus.HistogramVec
	ActiveConsumers   *prometheus.GaugeVec
	AnomaliesDetected *prometheus.CounterVec
	RedisOperations   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_processed_total",
			Help: "Total processed messages",
		}, []string{"topic", "status"}),
		ProcessingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "message_processing_seconds",
			Help: "Time spent processing messages",
		}, []string{"topic"}),
		ActiveConsumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "active_consumers",
			Help: "Number of active consumers",
		}, []string{"consumer_type"}),
		AnomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Total anomalies detected",
		}, []string{"anomaly_type"}),
		RedisOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations",
		}, []string{"operation", "status"}),
	}

	registry.MustRegister(
		m.MessagesProcessed,
		m.ProcessingTime,
		m.ActiveConsumers,
		m.AnomaliesDetected,
		m.RedisOperations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

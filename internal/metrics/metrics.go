package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the client core.
type Metrics struct {
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	PriceRefreshes  *prometheus.CounterVec
	SchemeSyncs     *prometheus.CounterVec
	PaymentStages   *prometheus.CounterVec
	Errors          *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Total backend API requests by endpoint and outcome.",
			}, []string{"endpoint", "status"}),
			BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_request_duration_seconds",
				Help:      "Latency distribution for backend API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			PriceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_refreshes_total",
				Help:      "Total price feed refresh attempts by outcome.",
			}, []string{"status"}),
			SchemeSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheme_syncs_total",
				Help:      "Total scheme synchronisation attempts by outcome.",
			}, []string{"status"}),
			PaymentStages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_stages_total",
				Help:      "Payment saga transitions by stage and outcome.",
			}, []string{"stage", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.BackendRequests,
			metricsInstance.BackendLatency,
			metricsInstance.PriceRefreshes,
			metricsInstance.SchemeSyncs,
			metricsInstance.PaymentStages,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rayanical/dining-bot-publish/internal/core/catalog"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	refreshTotal      *prometheus.CounterVec
	refreshDuration   *prometheus.HistogramVec
	refreshInFlight   prometheus.Gauge
	catalogItems      *prometheus.GaugeVec
	catalogGeneration prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	refreshTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "catalog_refresh_total",
			Help:      "Total catalog refreshes by status.",
		},
		[]string{"service", "status"},
	)
	refreshDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "catalog_refresh_duration_seconds",
			Help:      "Catalog refresh duration in seconds by status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	refreshInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "catalog_refresh_in_flight",
			Help:      "Number of in-flight catalog refreshes.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	catalogItems := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "items",
			Help:      "Items in the last published snapshot, total and embedded.",
		},
		[]string{"service", "state"},
	)
	catalogGeneration := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "generation",
			Help:      "Generation of the last published catalog snapshot.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(refreshTotal, refreshDuration, refreshInFlight, catalogItems, catalogGeneration)

	return &WorkerMetrics{
		registry:          registry,
		refreshTotal:      refreshTotal,
		refreshDuration:   refreshDuration,
		refreshInFlight:   refreshInFlight,
		catalogItems:      catalogItems,
		catalogGeneration: catalogGeneration,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartRefresh() {
	m.refreshInFlight.Inc()
}

func (m *WorkerMetrics) FinishRefresh(service string, duration time.Duration, info catalog.Info, err error) {
	m.refreshInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.refreshTotal.WithLabelValues(service, status).Inc()
	m.refreshDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if err != nil {
		return
	}
	m.catalogItems.WithLabelValues(service, "total").Set(float64(info.Items))
	m.catalogItems.WithLabelValues(service, "embedded").Set(float64(info.Embedded))
	m.catalogGeneration.Set(float64(info.Generation))
}

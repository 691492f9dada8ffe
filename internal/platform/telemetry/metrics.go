package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry so
// that tests can build as many instances as they like. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	queueActions      *prometheus.CounterVec
	pharmacyRequests  *prometheus.CounterVec
	pharmacyDuration  prometheus.Histogram
	webhookDeliveries *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rxdesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rxdesk_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		queueActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rxdesk_queue_actions_total",
				Help: "Prescription queue actions by item kind and action",
			},
			[]string{"kind", "action"},
		),
		pharmacyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rxdesk_pharmacy_requests_total",
				Help: "Pharmacy router calls by outcome",
			},
			[]string{"outcome"},
		),
		pharmacyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rxdesk_pharmacy_request_duration_seconds",
				Help:    "Duration of pharmacy router submissions including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		webhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rxdesk_webhook_deliveries_total",
				Help: "Outbound webhook deliveries by event and outcome",
			},
			[]string{"event", "outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.queueActions,
		m.pharmacyRequests,
		m.pharmacyDuration,
		m.webhookDeliveries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) QueueAction(kind, action string) {
	if m == nil {
		return
	}
	m.queueActions.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) PharmacyRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.pharmacyRequests.WithLabelValues(outcome).Inc()
	m.pharmacyDuration.Observe(d.Seconds())
}

func (m *Metrics) WebhookDelivery(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(event, outcome).Inc()
}

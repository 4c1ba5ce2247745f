package instrument

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "formbridge"

// Delivery outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeSkipped  = "skipped"
	OutcomeIgnored  = "ignored"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Attachment import outcomes.
const (
	ImportImported = "imported"
	ImportReused   = "reused"
	ImportFailed   = "failed"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	Imports          *prometheus.CounterVec
	TermsCreated     *prometheus.CounterVec
}

// NewMetrics registers collectors on a private registry so repeated
// construction (tests, multiple servers) never collides.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by outcome",
		}, []string{"outcome"}),
		DeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Time spent handling a webhook delivery",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		Imports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_imports_total",
			Help:      "Attachment imports by outcome",
		}, []string{"outcome"}),
		TermsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terms_created_total",
			Help:      "Taxonomy terms created on demand",
		}, []string{"taxonomy"}),
	}
}

// ObserveDelivery records one delivery outcome and its duration.
func (m *Metrics) ObserveDelivery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveImport records one attachment import outcome.
func (m *Metrics) ObserveImport(outcome string) {
	if m == nil {
		return
	}
	m.Imports.WithLabelValues(outcome).Inc()
}

// ObserveTermCreated records an on-demand term creation.
func (m *Metrics) ObserveTermCreated(taxonomy string) {
	if m == nil {
		return
	}
	m.TermsCreated.WithLabelValues(taxonomy).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

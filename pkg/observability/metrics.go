package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Invoice generation
	InvoicesGeneratedTotal *prometheus.CounterVec
	InvoicesSkippedTotal   *prometheus.CounterVec
	DuplicatePeriodsTotal  prometheus.Counter

	// Autopay
	ChargesAttemptedTotal *prometheus.CounterVec
	ChargeAmountCents     *prometheus.HistogramVec

	// Processor events
	WebhookEventsTotal   *prometheus.CounterVec
	WebhookDedupHits     prometheus.Counter
	WebhookRejectedTotal *prometheus.CounterVec

	// Disputes
	DisputesOpenedTotal prometheus.Counter
	DisputesClosedTotal *prometheus.CounterVec

	// Credit ledger
	CreditAppliedCents prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on the given registry. A nil
// registry gets a fresh one, keeping tests isolated from each other.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		InvoicesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcore_invoices_generated_total",
				Help: "Invoices generated, by kind",
			},
			[]string{"kind"},
		),
		InvoicesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcore_invoices_skipped_total",
				Help: "Engagements skipped during generation, by reason",
			},
			[]string{"reason"},
		),
		DuplicatePeriodsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billcore_duplicate_periods_total",
				Help: "Generation attempts suppressed by the period uniqueness guarantee",
			},
		),
		ChargesAttemptedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcore_charges_attempted_total",
				Help: "Autopay charge attempts, by outcome",
			},
			[]string{"outcome"},
		),
		ChargeAmountCents: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billcore_charge_amount_cents",
				Help:    "Charge amounts in cents",
				Buckets: prometheus.ExponentialBuckets(1000, 4, 8),
			},
			[]string{"outcome"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcore_webhook_events_total",
				Help: "Processor webhook events applied, by type",
			},
			[]string{"type"},
		),
		WebhookDedupHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billcore_webhook_dedup_hits_total",
				Help: "Webhook events dropped as replays",
			},
		),
		WebhookRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcore_webhook_rejected_total",
				Help: "Webhook events rejected before processing, by reason",
			},
			[]string{"reason"},
		),
		DisputesOpenedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billcore_disputes_opened_total",
				Help: "Payment disputes opened",
			},
		),
		DisputesClosedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcore_disputes_closed_total",
				Help: "Payment disputes closed, by outcome",
			},
			[]string{"outcome"},
		),
		CreditAppliedCents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billcore_credit_applied_cents_total",
				Help: "Credit applied to invoices, in cents",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvoicesGeneratedTotal,
		m.InvoicesSkippedTotal,
		m.DuplicatePeriodsTotal,
		m.ChargesAttemptedTotal,
		m.ChargeAmountCents,
		m.WebhookEventsTotal,
		m.WebhookDedupHits,
		m.WebhookRejectedTotal,
		m.DisputesOpenedTotal,
		m.DisputesClosedTotal,
		m.CreditAppliedCents,
	)
	return m
}

// Handler returns the scrape endpoint for this metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request count and duration
// metrics. path should be the route pattern, not the raw URL, to keep
// cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

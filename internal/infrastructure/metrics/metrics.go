package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the marketplace collectors, registered on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	TransactionsCreated *prometheus.CounterVec
	TransactionStatus   *prometheus.CounterVec
	CreditsSold         *prometheus.CounterVec
	PaymentVolume       *prometheus.CounterVec
	PlatformFees        *prometheus.CounterVec
	WebhookEvents       *prometheus.CounterVec
	GatewayErrors       *prometheus.CounterVec
	ListingsExpired     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbonease_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		TransactionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_transactions_created_total",
			Help: "Transactions created by currency.",
		}, []string{"currency"}),
		TransactionStatus: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_transaction_status_changes_total",
			Help: "Transaction status changes by target status and initiator.",
		}, []string{"status", "initiator"}),
		CreditsSold: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_credits_sold_total",
			Help: "Credits reserved against settled payments by energy type.",
		}, []string{"energy_type"}),
		PaymentVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_payment_volume_total",
			Help: "Settled payment volume by currency.",
		}, []string{"currency"}),
		PlatformFees: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_platform_fees_total",
			Help: "Platform fees on settled payments by currency.",
		}, []string{"currency"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_webhook_events_total",
			Help: "Gateway webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		GatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonease_gateway_errors_total",
			Help: "Payment gateway call failures by operation.",
		}, []string{"operation"}),
		ListingsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "carbonease_listings_expired_total",
			Help: "Listings moved to expired by the certification sweep.",
		}),
	}
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		route := c.Route().Path
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		m.HTTPRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}

// Nil-safe recorders so services can run without metrics wired.

func (m *Metrics) RecordTransactionCreated(currency string) {
	if m == nil {
		return
	}
	m.TransactionsCreated.WithLabelValues(currency).Inc()
}

func (m *Metrics) RecordStatus(status, initiator string) {
	if m == nil {
		return
	}
	m.TransactionStatus.WithLabelValues(status, initiator).Inc()
}

func (m *Metrics) RecordSettlement(energyType, currency string, credits int, amount, platformFee float64) {
	if m == nil {
		return
	}
	m.CreditsSold.WithLabelValues(energyType).Add(float64(credits))
	m.PaymentVolume.WithLabelValues(currency).Add(amount)
	m.PlatformFees.WithLabelValues(currency).Add(platformFee)
}

func (m *Metrics) RecordWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordGatewayError(op string) {
	if m == nil {
		return
	}
	m.GatewayErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsExpired.Add(float64(n))
}

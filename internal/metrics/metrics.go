package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the booking pipeline.
type Metrics struct {
	BookingTransitions  *prometheus.CounterVec
	PaymentTransitions  *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	PaymentAttempts     *prometheus.CounterVec
	WebhooksReceived    *prometheus.CounterVec
	SweepResults        *prometheus.CounterVec
	ProviderCallLatency *prometheus.HistogramVec
	OutboxPublished     *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BookingTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundiconnect_booking_transitions_total",
			Help: "Booking status transitions applied, by edge",
		}, []string{"from", "to"}),

		PaymentTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundiconnect_payment_transitions_total",
			Help: "Payment status transitions applied, by target status",
		}, []string{"to"}),

		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundiconnect_notifications_total",
			Help: "Outbound notifications by type and outcome",
		}, []string{"type", "outcome"}),

		PaymentAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundiconnect_payment_attempts_total",
			Help: "Payment initiation attempts by method and outcome",
		}, []string{"method", "outcome"}),

		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundiconnect_webhooks_total",
			Help: "Inbound webhooks by provider and outcome",
		}, []string{"provider", "outcome"}),

		SweepResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundiconnect_sweep_items_total",
			Help: "Expiration sweep items by result",
		}, []string{"result"}),

		ProviderCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fundiconnect_provider_call_duration_seconds",
			Help:    "Latency of outbound messaging and payment provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		OutboxPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundiconnect_outbox_messages_total",
			Help: "Outbox messages processed by outcome",
		}, []string{"outcome"}),
	}
}

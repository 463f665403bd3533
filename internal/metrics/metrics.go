package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_events_published_total",
			Help: "Integration events confirmed by the broker, by event type",
		},
		[]string{"type"},
	)

	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_events_consumed_total",
			Help: "Deliveries processed by the consume loop, by event type and outcome",
		},
		[]string{"type", "result"}, // ok|retried|dead_lettered|malformed
	)

	DLQMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_dlq_messages_total",
			Help: "Messages routed to a dead-letter queue, by routing key",
		},
		[]string{"routing_key"},
	)

	OutboxPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordering_outbox_published_total",
			Help: "Outbox rows successfully relayed to the broker",
		},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"result"}, // delivered|failed|circuit_open
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsPublished,
		EventsConsumed,
		DLQMessages,
		OutboxPublished,
		WebhookDeliveries,
	)
}

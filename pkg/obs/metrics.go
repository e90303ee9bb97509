package obs

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the payments engine
var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Gateway notifications handled, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	OutboxItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_items_total",
			Help: "Outbox items executed, by operation type and outcome",
		},
		[]string{"type", "outcome"},
	)

	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Payout attempts, by outcome",
		},
		[]string{"outcome"},
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refunds recorded, by refund percentage",
		},
		[]string{"percentage"},
	)

	EventProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_event_processing_duration_seconds",
			Help:    "Duration of gateway notification processing",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all engine metrics on the default registry.
func Register() {
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(OutboxItemsTotal)
	prometheus.MustRegister(PayoutsTotal)
	prometheus.MustRegister(RefundsTotal)
	prometheus.MustRegister(EventProcessingDuration)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for the payment pipeline. Registered on the default
// registry and served from /metrics.
var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Raw webhook deliveries received, by provider and chain.",
	}, []string{"provider", "chain"})

	WebhooksDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_duplicate_total",
		Help: "Byte-identical webhook redeliveries skipped by the dedupe ledger.",
	}, []string{"provider", "chain"})

	DepositsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposits_credited_total",
		Help: "Deposits that reached the credited state.",
	})

	StarsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stars_credited_total",
		Help: "Stars credited across all layers.",
	})

	DepositsParkedForReview = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposits_needs_review_total",
		Help: "Deposits parked for manual review, by reason.",
	}, []string{"reason"})

	OutboxDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_delivered_total",
		Help: "Outbox messages delivered to the notifier.",
	})

	OutboxFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_failures_total",
		Help: "Outbox delivery attempts that failed.",
	})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending",
		Help: "Outbox messages waiting for delivery.",
	})

	BalanceDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_drift_total",
		Help: "Users whose cached balance disagreed with the ledger during audit.",
	})
)

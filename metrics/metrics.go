package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// The gateway never redelivers a webhook once we acknowledge it, so orphaned
// and failed-to-process callbacks are only visible through these counters.
// Alert on CallbacksOrphaned and AttemptsFlaggedForReview.
var (
	CallbacksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darasapay_callbacks_processed_total",
		Help: "Webhook notifications applied to an attempt.",
	})

	CallbacksDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darasapay_callbacks_duplicate_total",
		Help: "Webhook notifications that found their attempt already terminal.",
	})

	CallbacksOrphaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darasapay_callbacks_orphaned_total",
		Help: "Webhook notifications with an unknown checkout request id.",
	})

	AttemptsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darasapay_attempts_reconciled_total",
		Help: "Attempts resolved by the verifier instead of a callback.",
	})

	AttemptsFlaggedForReview = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darasapay_attempts_flagged_review_total",
		Help: "Attempts handed to manual review after the verification budget ran out.",
	})

	GatewayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darasapay_gateway_errors_total",
		Help: "Transport-level failures talking to the payment gateway.",
	})
)

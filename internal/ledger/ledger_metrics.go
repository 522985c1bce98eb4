package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts ledger operations by type and outcome.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frauddetect",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// LedgerOpDuration observes operation latency by type.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "frauddetect",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// LedgerPostedAmount sums the money moved by completed postings.
	LedgerPostedAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "frauddetect",
			Name:      "ledger_posted_amount_total",
			Help:      "Total amount moved by completed postings, by currency.",
		},
		[]string{"currency"},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		LedgerPostedAmount,
	)
}

// observeOp returns a function that records the operation's duration and outcome.
func observeOp(opType string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		LedgerOpsTotal.WithLabelValues(opType, outcome).Inc()
		LedgerOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}

package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileImbalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "frauddetect",
		Subsystem: "reconciliation",
		Name:      "ledger_imbalance",
		Help:      "Sum of DEBIT minus sum of CREDIT entries found in the last run.",
	})

	reconcileProblems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "frauddetect",
		Subsystem: "reconciliation",
		Name:      "problems",
		Help:      "Number of consistency problems found in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "frauddetect",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "frauddetect",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileImbalance,
		reconcileProblems,
		reconcileDuration,
		reconcileErrors,
	)
}

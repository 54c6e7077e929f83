package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Total reconciliation passes started.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beefpay",
		Subsystem: "reconcile",
		Name:      "run_duration_seconds",
		Help:      "Duration of a full reconciliation pass in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	paymentsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "reconcile",
		Name:      "payments_applied_total",
		Help:      "Total transfers credited to invoices, by chain.",
	}, []string{"chain"})

	invoicesPaid = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "reconcile",
		Name:      "invoices_paid_total",
		Help:      "Total invoices settled in full, by chain.",
	}, []string{"chain"})

	duplicatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "reconcile",
		Name:      "duplicate_transfers_total",
		Help:      "Transfers rejected by billing as already credited, by chain.",
	}, []string{"chain"})

	leaseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "reconcile",
		Name:      "lease_errors_total",
		Help:      "Per-lease reconciliation failures, by chain.",
	}, []string{"chain"})
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		runDuration,
		paymentsApplied,
		invoicesPaid,
		duplicatesTotal,
		leaseErrors,
	)
}

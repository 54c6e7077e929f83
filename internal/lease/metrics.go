package lease

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	poolSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "beefpay",
		Subsystem: "lease",
		Name:      "pool_size",
		Help:      "Configured pool size per chain.",
	}, []string{"chain"})

	leasesAllocated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "lease",
		Name:      "allocated_total",
		Help:      "Total leases allocated per chain.",
	}, []string{"chain"})

	allocationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "lease",
		Name:      "allocation_failures_total",
		Help:      "Total failed allocations by reason.",
	}, []string{"chain", "reason"}) // "pool_exhausted", "already_leased"

	leasesRenewed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "lease",
		Name:      "renewed_total",
		Help:      "Total lease renewals per chain.",
	}, []string{"chain"})

	leasesReleased = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "lease",
		Name:      "released_total",
		Help:      "Total leases released by reason.",
	}, []string{"chain", "reason"}) // "paid"

	leasesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "beefpay",
		Subsystem: "lease",
		Name:      "expired_total",
		Help:      "Total leases released by the expiry sweep.",
	})
)

func init() {
	prometheus.MustRegister(
		poolSize,
		leasesAllocated,
		allocationFailures,
		leasesRenewed,
		leasesReleased,
		leasesExpired,
	)
}

// Package services – Prometheus domain metrics.
//
// Counters here track the business pipeline rather than HTTP traffic (which
// the middleware instruments): jobs by kind and terminal status, credits
// moved through the ledger, and poll effort per job. Label sets are small and
// enumerable to keep cardinality bounded.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// jobsTotal counts jobs by kind and final status.
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transform_jobs_total",
			Help: "Total transformation jobs by kind and terminal status.",
		},
		[]string{"kind", "status"},
	)

	// creditsReserved counts credits taken from subject balances.
	creditsReserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_reserved_total",
			Help: "Total credits reserved for jobs.",
		},
	)

	// creditsRefunded counts credits returned after failed work.
	creditsRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_refunded_total",
			Help: "Total credits refunded for failed jobs.",
		},
	)

	// pollAttempts observes how many status polls a job needed before it
	// reached a terminal state.
	pollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transform_poll_attempts",
			Help:    "Status polls per job until a terminal state.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 60},
		},
	)

	// usageEvents counts best-effort metering emissions per job kind.
	usageEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_events_total",
			Help: "Usage metering events emitted per job kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, creditsReserved, creditsRefunded, pollAttempts, usageEvents)
}

/*
	Package metrics exposes the scheduler's Prometheus instrumentation.
	Every call here is best-effort and side-effect free on the state
	machine: a coordinator that failed to record a metric has not failed
	to materialize a view.
*/
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RoundsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsched_rounds_started_total",
			Help: "Materialize rounds a coordinator has begun evaluating, by view format.",
		},
		[]string{"format"},
	)

	TransformationsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsched_transformations_submitted_total",
			Help: "Transformations submitted to the ActionRunner, by transformation kind.",
		},
		[]string{"kind"},
	)

	RetriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "viewsched_retries_scheduled_total",
			Help: "Retry backoffs scheduled after an ActionFailure.",
		},
	)

	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsched_outcomes_total",
			Help: "Terminal round outcomes, by kind: materialized, no_data, failed.",
		},
		[]string{"outcome"},
	)

	RoundLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "viewsched_round_latency_seconds",
			Help:    "Wall-clock time from a coordinator's first Materialize in a round to its terminal reply.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// MustRegister registers all the collectors above with reg, so the
// bootstrap command can register them once instead of listing each
// variable by hand.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(RoundsStarted, TransformationsSubmitted, RetriesScheduled, Outcomes, RoundLatency)
}

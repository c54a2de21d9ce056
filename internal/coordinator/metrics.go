package coordinator

import "github.com/prometheus/client_golang/prometheus"

// Provider label values come from the catalog, which keeps cardinality
// bounded by the number of configured providers.
var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Provider call attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Duration of one provider call attempt in seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "provider_calls_inflight",
			Help: "Provider calls currently performing network I/O.",
		},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_retries_total",
			Help: "Provider retry attempts.",
		},
		[]string{"provider"},
	)

	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_results_total",
			Help: "Terminal reply results by provider and status.",
		},
		[]string{"provider", "status"},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reply_sessions_total",
			Help: "Reply sessions dispatched by mode.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(callsTotal, callDuration, inflight, retriesTotal, resultsTotal, sessionsTotal)
}

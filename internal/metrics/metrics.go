// Package metrics exposes Prometheus collectors for coordinator runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/clusterize/pkg/model"
)

var (
	jobsLaunched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterize_jobs_launched_total",
		Help: "Total number of worker jobs launched.",
	})

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterize_jobs_finished_total",
			Help: "Total number of worker jobs reaching a terminal state.",
		},
		[]string{"state"},
	)

	activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clusterize_active_jobs",
		Help: "Number of launched jobs not yet in a terminal state.",
	})

	aggregateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clusterize_aggregate_seconds",
		Help:    "Time spent copying one job's result into the consolidated output.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	aggregatedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterize_aggregated_bytes_total",
		Help: "Total result bytes written into consolidated outputs.",
	})

	pollPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterize_poll_passes_total",
		Help: "Total number of completion poll passes.",
	})

	runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterize_runs_total",
			Help: "Total number of coordinator runs by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(jobsLaunched)
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(activeJobs)
	prometheus.MustRegister(aggregateDuration)
	prometheus.MustRegister(aggregatedBytes)
	prometheus.MustRegister(pollPasses)
	prometheus.MustRegister(runsFinished)
}

// JobLaunched records a job entering RUNNING.
func JobLaunched() {
	jobsLaunched.Inc()
	activeJobs.Inc()
}

// JobFinished records a job reaching a terminal state. Jobs that never
// launched do not touch the active gauge.
func JobFinished(state model.JobState, wasActive bool) {
	jobsFinished.WithLabelValues(state.String()).Inc()
	if wasActive {
		activeJobs.Dec()
	}
}

// ObserveAggregate records one successful result copy.
func ObserveAggregate(d time.Duration, bytes int64) {
	aggregateDuration.Observe(d.Seconds())
	aggregatedBytes.Add(float64(bytes))
}

// PollPass records one completion poll pass.
func PollPass() {
	pollPasses.Inc()
}

// RunFinished records the outcome of a coordinator run.
func RunFinished(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	runsFinished.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics registers the Prometheus collectors of the simulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gerrysort_rounds_total",
		Help: "Total number of completed simulation rounds",
	})
	MovesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gerrysort_moves_total",
		Help: "Total number of household relocations",
	})
	RedistrictDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gerrysort_redistrict_duration_seconds",
		Help:    "Wall time of one redistricting including retries",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
	RedistrictFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gerrysort_redistrict_failures_total",
		Help: "Rounds whose redistricting was skipped after every attempt failed",
	})
	ReassignedPrecinctsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gerrysort_reassigned_precincts_total",
		Help: "Total number of precinct reassignments committed",
	})
	EfficiencyGap = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gerrysort_efficiency_gap",
		Help: "Efficiency gap of the most recent round",
	})
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gerrysort_jobs_total",
		Help: "Sweep jobs by final status",
	}, []string{"status"})
	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gerrysort_job_duration_seconds",
		Help:    "Wall time of one sweep job attempt",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gerrysort_http_requests_total",
		Help: "Status API requests by route and code",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(RoundsTotal)
	prometheus.MustRegister(MovesTotal)
	prometheus.MustRegister(RedistrictDuration)
	prometheus.MustRegister(RedistrictFailuresTotal)
	prometheus.MustRegister(ReassignedPrecinctsTotal)
	prometheus.MustRegister(EfficiencyGap)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }

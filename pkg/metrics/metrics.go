package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Entity gauges, by current status.
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbiter_instances_total",
			Help: "Total number of instances by status and backend ID",
		},
		[]string{"status", "backend"},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbiter_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	RunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbiter_runs_total",
			Help: "Total number of runs by status",
		},
		[]string{"status"},
	)

	FleetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbiter_fleets_total",
			Help: "Total number of fleets by status",
		},
		[]string{"status"},
	)

	// Dispatcher/reconciler metrics.
	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbiter_reconciliation_duration_seconds",
			Help:    "Time taken for a single entity's reconciliation tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	ReconciliationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbiter_reconciliation_cycles_total",
			Help: "Total number of per-entity reconciliation ticks completed",
		},
		[]string{"task", "outcome"},
	)

	LeaseContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbiter_lease_contention_total",
			Help: "Total number of lease acquisitions skipped because the entity was already leased",
		},
		[]string{"task"},
	)

	// Placement/offer metrics.
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbiter_job_placement_latency_seconds",
			Help:    "Time taken to place a job onto an instance",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbiter_jobs_placed_total",
			Help: "Total number of jobs successfully placed onto an instance",
		},
	)

	JobsPlacementFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbiter_jobs_placement_failed_total",
			Help: "Total number of job placement attempts that found no matching instance",
		},
	)

	OfferCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbiter_offer_cache_hits_total",
			Help: "Total number of offer engine cache hits and misses",
		},
		[]string{"backend", "result"},
	)

	OfferFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbiter_offer_fetch_duration_seconds",
			Help:    "Time taken to fetch offers from a backend (cache miss)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Backend adapter metrics.
	BackendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbiter_backend_calls_total",
			Help: "Total number of ComputeBackend adapter calls by method and outcome",
		},
		[]string{"backend", "method", "outcome"},
	)

	BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbiter_backend_call_duration_seconds",
			Help:    "ComputeBackend adapter call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "method"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(FleetsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(LeaseContention)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(JobsPlaced)
	prometheus.MustRegister(JobsPlacementFailed)
	prometheus.MustRegister(OfferCacheHits)
	prometheus.MustRegister(OfferFetchDuration)
	prometheus.MustRegister(BackendCallsTotal)
	prometheus.MustRegister(BackendCallDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

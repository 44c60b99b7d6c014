/*
Package metrics defines and registers all orbiter Prometheus metrics.

Metrics fall into four groups: entity gauges (instances/jobs/runs/fleets by
status, refreshed by Collector every 15s), dispatcher metrics (per-task
reconciliation duration and cycle counts, lease contention), placement
metrics (job placement latency and outcome counters), and backend adapter
metrics (call count and duration per ComputeBackend method).

# Usage

	mux.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDurationVec(metrics.ReconciliationDuration, "instance")

# See Also

  - pkg/log for the counterpart structured logging wrapper
  - pkg/scheduler for the dispatcher that drives ReconciliationDuration/Cycles
*/
package metrics

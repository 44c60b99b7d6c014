package metrics

import (
	"time"

	"github.com/cuemby/orbiter/pkg/storage"
)

// Collector periodically samples the store and republishes entity counts as
// gauges, so dashboards reflect current state even between reconciler ticks.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector backed by store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15s.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectInstanceMetrics()
	c.collectJobMetrics()
	c.collectRunMetrics()
	c.collectFleetMetrics()
}

func (c *Collector) collectInstanceMetrics() {
	instances, err := c.store.ListInstances()
	if err != nil {
		return
	}

	counts := make(map[[2]string]int)
	for _, inst := range instances {
		backend := inst.BackendID
		if backend == "" {
			backend = "none"
		}
		counts[[2]string{string(inst.Status), backend}]++
	}

	InstancesTotal.Reset()
	for k, v := range counts {
		InstancesTotal.WithLabelValues(k[0], k[1]).Set(float64(v))
	}
}

func (c *Collector) collectJobMetrics() {
	jobs, err := c.store.ListJobs()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, j := range jobs {
		counts[string(j.Status)]++
	}

	JobsTotal.Reset()
	for status, count := range counts {
		JobsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectRunMetrics() {
	runs, err := c.store.ListRuns()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, r := range runs {
		counts[string(r.Status)]++
	}

	RunsTotal.Reset()
	for status, count := range counts {
		RunsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectFleetMetrics() {
	fleets, err := c.store.ListFleets()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, f := range fleets {
		counts[string(f.Status)]++
	}

	FleetsTotal.Reset()
	for status, count := range counts {
		FleetsTotal.WithLabelValues(status).Set(float64(count))
	}
}

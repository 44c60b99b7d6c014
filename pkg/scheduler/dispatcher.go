package scheduler

import (
	"runtime"
	"sync"
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/log"
	"github.com/cuemby/orbiter/pkg/metrics"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/rs/zerolog"
)

// Handler processes one entity ID leased for a task. Errors are logged and
// counted but never stop the dispatcher; a failed entity is simply retried
// once its lease expires.
type Handler func(id string) error

// CandidateFunc lists the IDs a task considers for leasing on this tick
// (typically everything in a given status, read straight from the store).
type CandidateFunc func() ([]string, error)

// Task is one named periodic unit of work: every Interval, it lists
// candidates, leases up to BatchSize of them (stale-lease batch selection,
// see pkg/storage.Store.LeaseBatch), and dispatches each leased ID to
// Handler on the dispatcher's shared worker pool.
type Task struct {
	Name       string
	Interval   time.Duration
	BatchSize  int
	Candidates CandidateFunc
	Handle     Handler
}

// Dispatcher generalizes two hand-rolled tickers into one
// (Reconciler.run, Scheduler.run) into one registry of named periodic
// tasks sharing a single bounded worker pool.
type Dispatcher struct {
	store     storage.Store
	clock     clock.Clock
	logger    zerolog.Logger
	workers   chan struct{}
	tasks     []*Task
	stopCh    chan struct{}
	wg        sync.WaitGroup
	leaseKind func(task string) string
}

// DefaultWorkerCap returns cpu×4, a concurrency rule
// of thumb carried over to bound total in-flight handler goroutines.
func DefaultWorkerCap() int {
	return runtime.NumCPU() * 4
}

// New creates a Dispatcher backed by store and clock, with at most
// workerCap handlers running concurrently across all registered tasks.
func New(store storage.Store, clk clock.Clock, workerCap int) *Dispatcher {
	if workerCap <= 0 {
		workerCap = DefaultWorkerCap()
	}
	return &Dispatcher{
		store:   store,
		clock:   clk,
		logger:  log.WithComponent("dispatcher"),
		workers: make(chan struct{}, workerCap),
		stopCh:  make(chan struct{}),
		leaseKind: func(task string) string {
			return task
		},
	}
}

// Register adds a task. Must be called before Start.
func (d *Dispatcher) Register(t *Task) {
	d.tasks = append(d.tasks, t)
}

// Start launches one ticking goroutine per registered task.
func (d *Dispatcher) Start() {
	for _, t := range d.tasks {
		d.wg.Add(1)
		go d.runTask(t)
	}
}

// Stop signals every task loop to exit and waits up to 30s (the same
// shutdown grace period) for in-flight handlers to drain.
func (d *Dispatcher) Stop() {
	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		d.logger.Warn().Msg("dispatcher shutdown grace period exceeded, some handlers may still be running")
	}
}

func (d *Dispatcher) runTask(t *Task) {
	defer d.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick(t)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) tick(t *Task) {
	candidates, err := t.Candidates()
	if err != nil {
		d.logger.Error().Err(err).Str("task", t.Name).Msg("failed to list candidates")
		return
	}
	if len(candidates) == 0 {
		return
	}

	now := d.clock.Now()
	leaseUntil := now.Add(2 * t.Interval)

	leased, err := d.store.LeaseBatch(d.leaseKind(t.Name), candidates, now, leaseUntil, t.BatchSize)
	if err != nil {
		d.logger.Error().Err(err).Str("task", t.Name).Msg("failed to lease batch")
		return
	}
	if len(leased) < len(candidates) {
		metrics.LeaseContention.WithLabelValues(t.Name).Add(float64(len(candidates) - len(leased)))
	}

	var wg sync.WaitGroup
	for _, id := range leased {
		id := id
		d.workers <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-d.workers }()
			d.dispatch(t, id)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) dispatch(t *Task, id string) {
	timer := metrics.NewTimer()
	outcome := "ok"

	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			d.logger.Error().Str("task", t.Name).Str("id", id).Interface("panic", r).Msg("handler panicked")
		}
		timer.ObserveDurationVec(metrics.ReconciliationDuration, t.Name)
		metrics.ReconciliationCyclesTotal.WithLabelValues(t.Name, outcome).Inc()
	}()

	if err := t.Handle(id); err != nil {
		outcome = "error"
		d.logger.Error().Err(err).Str("task", t.Name).Str("id", id).Msg("handler failed")
		return
	}
}

package reconciler

import (
	"fmt"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/log"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/rs/zerolog"
)

// RunReconciler reduces a Run's Jobs' statuses into the Run's own status,
// retries jobs interrupted by lost capacity within
// types.DefaultRetryWindow, and cascades a user stop request down to every
// live job.
type RunReconciler struct {
	store  storage.Store
	clock  clock.Clock
	logger zerolog.Logger
}

// NewRunReconciler builds a RunReconciler.
func NewRunReconciler(store storage.Store, clk clock.Clock) *RunReconciler {
	return &RunReconciler{store: store, clock: clk, logger: log.WithComponent("run-reconciler")}
}

// Candidates lists every run whose processing has not finished.
func (r *RunReconciler) Candidates() ([]string, error) {
	runs, err := r.store.ListRuns()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, run := range runs {
		if run.ProcessingFinished {
			continue
		}
		ids = append(ids, run.ID)
	}
	return ids, nil
}

// Handle processes one run by ID.
func (r *RunReconciler) Handle(id string) error {
	run, err := r.store.GetRun(id)
	if err != nil {
		return err
	}

	jobs, err := r.store.ListJobsByRun(run.ID)
	if err != nil {
		return err
	}

	if run.StopRequested {
		if err := r.cascadeStop(run, jobs); err != nil {
			return err
		}
		// Reload: cascadeStop may have mutated job statuses in the store.
		jobs, err = r.store.ListJobsByRun(run.ID)
		if err != nil {
			return err
		}
	} else {
		jobs, err = r.retryInterrupted(run, jobs)
		if err != nil {
			return err
		}
	}

	latest := latestPerSlot(jobs)
	run.Status = reduceStatus(latest)
	if isTerminalRun(run.Status) {
		run.ProcessingFinished = true
	}

	run.LastProcessedAt = r.clock.Now()
	return r.store.UpdateRun(run)
}

// cascadeStop marks every non-terminal job of a stopped run terminating,
// by user request. Once every job reaches a terminal status the run itself
// becomes terminated with ProcessingFinished set.
func (r *RunReconciler) cascadeStop(run *types.Run, jobs []*types.Job) error {
	for _, job := range jobs {
		if isTerminalJob(job.Status) || job.Status == types.JobTerminating {
			continue
		}
		job.Status = types.JobTerminating
		job.TerminationReason = types.ReasonTerminatedByUser
		if err := r.store.UpdateJob(job); err != nil {
			return err
		}
	}
	return nil
}

// retryInterrupted resubmits a fresh Job for any slot whose latest
// submission was terminated by lost capacity, provided the run's retry
// policy still permits it at the current elapsed time (see
// types.DefaultRetryWindow). Returns the jobs list including any newly
// created replacement.
func (r *RunReconciler) retryInterrupted(run *types.Run, jobs []*types.Job) ([]*types.Job, error) {
	latest := latestPerSlot(jobs)
	elapsed := r.clock.Now().Sub(run.SubmittedAt)

	for _, job := range latest {
		if job.Status != types.JobTerminated || job.TerminationReason != types.ReasonInterruptedByNoCapacity {
			continue
		}
		if !run.Spec.Retry.Permits(job.TerminationReason, elapsed) {
			continue
		}

		replacement := &types.Job{
			ID:            fmt.Sprintf("%s-retry-%d", job.ID, job.SubmissionNum+1),
			RunID:         job.RunID,
			ProjectID:     job.ProjectID,
			JobNum:        job.JobNum,
			ReplicaNum:    job.ReplicaNum,
			SubmissionNum: job.SubmissionNum + 1,
			Status:        types.JobSubmitted,
			JobSpec:       job.JobSpec,
			SubmittedAt:   r.clock.Now(),
		}
		if err := r.store.CreateJob(replacement); err != nil {
			return nil, err
		}
		jobs = append(jobs, replacement)
	}
	return jobs, nil
}

// latestPerSlot keeps only the highest-SubmissionNum job per (JobNum,
// ReplicaNum) slot, since a retried slot's earlier attempts no longer
// count toward the run's reduced status.
func latestPerSlot(jobs []*types.Job) []*types.Job {
	type slotKey struct{ jobNum, replicaNum int }
	best := make(map[slotKey]*types.Job)
	for _, j := range jobs {
		k := slotKey{j.JobNum, j.ReplicaNum}
		if cur, ok := best[k]; !ok || j.SubmissionNum > cur.SubmissionNum {
			best[k] = j
		}
	}
	out := make([]*types.Job, 0, len(best))
	for _, j := range best {
		out = append(out, j)
	}
	return out
}

// reduceStatus applies the deterministic status-reduction rules:
// any failed slot is sticky (the run never returns to running once one
// slot has failed outright); all-done slots mean the run is done; any
// slot still short of running holds the whole run back at that phase;
// otherwise the run is running.
func reduceStatus(jobs []*types.Job) types.RunStatus {
	if len(jobs) == 0 {
		return types.RunPending
	}

	allDone := true
	allTerminal := true
	anyFailed := false
	minPhase := phaseTerminal

	for _, j := range jobs {
		if j.Status == types.JobFailed {
			anyFailed = true
		}
		if j.Status != types.JobDone {
			allDone = false
		}
		if !isTerminalJob(j.Status) {
			allTerminal = false
		}
		if p := jobPhase(j.Status); p < minPhase {
			minPhase = p
		}
	}

	if anyFailed {
		return types.RunFailed
	}
	if allDone {
		return types.RunDone
	}
	if allTerminal {
		return types.RunTerminated
	}

	switch minPhase {
	case phaseSubmitted:
		return types.RunPending
	case phaseProvisioning, phasePulling:
		return types.RunStarting
	case phaseRunning:
		return types.RunRunning
	case phaseTerminating:
		return types.RunTerminating
	default:
		return types.RunRunning
	}
}

const (
	phaseSubmitted = iota
	phaseProvisioning
	phasePulling
	phaseRunning
	phaseTerminating
	phaseTerminal
)

func jobPhase(s types.JobStatus) int {
	switch s {
	case types.JobSubmitted:
		return phaseSubmitted
	case types.JobProvisioning:
		return phaseProvisioning
	case types.JobPulling:
		return phasePulling
	case types.JobRunning:
		return phaseRunning
	case types.JobTerminating:
		return phaseTerminating
	default:
		return phaseTerminal
	}
}

func isTerminalRun(s types.RunStatus) bool {
	switch s {
	case types.RunDone, types.RunFailed, types.RunTerminated, types.RunAborted:
		return true
	}
	return false
}

package reconciler

import (
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/log"
	"github.com/cuemby/orbiter/pkg/metrics"
	"github.com/cuemby/orbiter/pkg/placement"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/rs/zerolog"
)

// JobReconciler drives the Job state machine: submitted -> provisioning ->
// pulling -> running -> terminating -> {terminated, done, failed, aborted}.
// Placement (submitted -> provisioning) is the only stage that
// touches another entity's state: it claims a block on an Instance and
// flips that instance busy.
type JobReconciler struct {
	store  storage.Store
	clock  clock.Clock
	logger zerolog.Logger
}

// NewJobReconciler builds a JobReconciler.
func NewJobReconciler(store storage.Store, clk clock.Clock) *JobReconciler {
	return &JobReconciler{store: store, clock: clk, logger: log.WithComponent("job-reconciler")}
}

// Candidates lists every job not yet in a terminal state.
func (r *JobReconciler) Candidates() ([]string, error) {
	jobs, err := r.store.ListJobs()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, j := range jobs {
		if isTerminalJob(j.Status) {
			continue
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func isTerminalJob(s types.JobStatus) bool {
	switch s {
	case types.JobTerminated, types.JobDone, types.JobFailed, types.JobAborted:
		return true
	}
	return false
}

// Handle processes one job by ID.
func (r *JobReconciler) Handle(id string) error {
	job, err := r.store.GetJob(id)
	if err != nil {
		return err
	}

	switch job.Status {
	case types.JobSubmitted:
		err = r.handleSubmitted(job)
	case types.JobProvisioning:
		err = r.handleProvisioning(job)
	case types.JobPulling:
		err = r.handlePulling(job)
	case types.JobRunning:
		err = r.handleRunning(job)
	case types.JobTerminating:
		err = r.handleTerminating(job)
	}
	if err != nil {
		return err
	}

	job.LastProcessedAt = r.clock.Now()
	return r.store.UpdateJob(job)
}

func (r *JobReconciler) handleSubmitted(job *types.Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = r.clock.Now()
	}

	if job.JobSpec.MaxDuration > 0 && r.clock.Now().Sub(job.SubmittedAt) > job.JobSpec.MaxDuration {
		job.Status = types.JobTerminating
		job.TerminationReason = types.ReasonMaxDurationExceeded
		return nil
	}

	run, err := r.store.GetRun(job.RunID)
	if err != nil {
		return err
	}

	instances, err := r.store.ListInstances()
	if err != nil {
		return err
	}

	var candidates []placement.CandidateInstance
	for _, inst := range instances {
		if inst.Status != types.InstanceIdle && inst.Status != types.InstanceBusy {
			continue
		}
		offer := types.InstanceOffer{}
		if inst.Offer != nil {
			offer = *inst.Offer
		}
		candidates = append(candidates, placement.CandidateInstance{Instance: inst, Offer: offer})
	}

	req := run.Spec.Requirements
	profile := run.Spec.Profile

	timer := metrics.NewTimer()
	selected := placement.SelectInstance(job, job.ProjectID, req, profile, candidates)
	timer.ObserveDuration(metrics.SchedulingLatency)

	if selected == nil {
		metrics.JobsPlacementFailed.Inc()
		return nil // stays submitted, retried next tick
	}

	if err := r.assign(job, selected); err != nil {
		return err
	}

	metrics.JobsPlaced.Inc()
	job.Status = types.JobProvisioning
	job.StartedAt = r.clock.Now()
	return nil
}

// assign claims one block on inst for job: allocates ports, fills
// JobRuntimeData, marks the job InstanceAssigned, and increments the
// instance's BusyBlocks. The instance is persisted here rather than
// deferred to the instance reconciler, since the block claim must be
// visible before the next job placement tick runs.
func (r *JobReconciler) assign(job *types.Job, inst *types.Instance) error {
	siblingJobs, err := r.store.ListJobsByInstance(inst.ID)
	if err != nil {
		return err
	}

	totalBlocks := inst.SharedInfo.TotalBlocks
	if totalBlocks <= 0 {
		totalBlocks = 1
	}
	offer := types.InstanceOffer{}
	if inst.Offer != nil {
		offer = *inst.Offer
	}
	share := placement.BlockShare(offer, totalBlocks)

	ports, err := placement.AllocatePorts(job.JobSpec.Ports, placement.InUsePorts(siblingJobs))
	if err != nil {
		return err
	}
	share.Ports = ports

	job.InstanceID = inst.ID
	job.InstanceAssigned = true
	job.JobRuntimeData = &share

	inst.SharedInfo.BusyBlocks++
	inst.Status = types.InstanceBusy
	return r.store.UpdateInstance(inst)
}

func (r *JobReconciler) handleProvisioning(job *types.Job) error {
	inst, err := r.store.GetInstance(job.InstanceID)
	if err != nil {
		return err
	}
	if inst.Status == types.InstanceTerminating || inst.Status == types.InstanceTerminated {
		job.Status = types.JobTerminating
		job.TerminationReason = types.ReasonInterruptedByNoCapacity
		return nil
	}
	if inst.JobProvisioningData == nil || inst.JobProvisioningData.HostInfo == nil {
		return nil // wait for the instance to finish its own boot
	}
	job.Status = types.JobPulling
	return nil
}

func (r *JobReconciler) handlePulling(job *types.Job) error {
	// No real container runtime backs this control plane; pulling is
	// modeled as a single-tick stage rather than inventing an
	// image-pull implementation.
	job.Status = types.JobRunning
	return nil
}

func (r *JobReconciler) handleRunning(job *types.Job) error {
	inst, err := r.store.GetInstance(job.InstanceID)
	if err != nil {
		return err
	}
	if inst.Status == types.InstanceTerminating || inst.Status == types.InstanceTerminated {
		job.Status = types.JobTerminating
		job.TerminationReason = types.ReasonInterruptedByNoCapacity
		return nil
	}
	if job.JobSpec.MaxDuration > 0 && r.clock.Now().Sub(job.StartedAt) > job.JobSpec.MaxDuration {
		job.Status = types.JobTerminating
		job.TerminationReason = types.ReasonMaxDurationExceeded
	}
	return nil
}

func (r *JobReconciler) handleTerminating(job *types.Job) error {
	now := r.clock.Now()

	if job.InstanceAssigned {
		if err := r.release(job); err != nil {
			return err
		}
	}

	switch job.TerminationReason {
	case types.ReasonTerminatedByUser, types.ReasonAborted:
		job.Status = types.JobAborted
	case types.ReasonFailedToStart, types.ReasonContainerExitedWithError:
		job.Status = types.JobFailed
	case types.ReasonInterruptedByNoCapacity, types.ReasonScalingDown:
		job.Status = types.JobTerminated
	case types.ReasonMaxDurationExceeded:
		job.Status = types.JobDone
	default:
		job.Status = types.JobTerminated
	}
	job.FinishedAt = now
	return nil
}

// release frees the block a job holds on its instance. Called exactly
// once, guarded by InstanceAssigned, so a job terminated twice (e.g. a
// retried tick after a crash) never double-decrements BusyBlocks.
func (r *JobReconciler) release(job *types.Job) error {
	inst, err := r.store.GetInstance(job.InstanceID)
	if err != nil {
		if _, ok := err.(*storage.ErrNotFound); ok {
			job.InstanceAssigned = false
			return nil
		}
		return err
	}

	if inst.SharedInfo.BusyBlocks > 0 {
		inst.SharedInfo.BusyBlocks--
	}
	if inst.SharedInfo.BusyBlocks == 0 && inst.Status == types.InstanceBusy {
		inst.Status = types.InstanceIdle
	}
	job.InstanceAssigned = false
	return r.store.UpdateInstance(inst)
}

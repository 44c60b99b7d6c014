package reconciler

import (
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/log"
	"github.com/cuemby/orbiter/pkg/metrics"
	"github.com/cuemby/orbiter/pkg/placement"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/rs/zerolog"
)

// PendingProvisionTimeout bounds how long an instance may sit in
// InstancePending — stuck before CreateInstance ever succeeds, e.g. always
// hitting a transient/capacity error — before the reconciler gives up and
// terminates it.
const PendingProvisionTimeout = 10 * time.Minute

// InstanceProvisionTimeout bounds how long an instance may sit in
// InstanceProvisioning before the reconciler gives up and terminates it.
const InstanceProvisionTimeout = 10 * time.Minute

// ProvisioningHealthGrace is how long a provisioning instance's shim may
// fail its healthcheck before the reconciler starts counting down
// TerminationDeadline, rather than tolerating it indefinitely.
const ProvisioningHealthGrace = 2 * time.Minute

// IdleUnhealthyTerminationGrace is how long an idle instance may stay
// unreachable before TerminationDeadline, once set, elapses and the
// reconciler terminates it.
const IdleUnhealthyTerminationGrace = 20 * time.Minute

// TerminateRetryMinInterval is the minimum gap between successive
// TerminateInstance attempts while an instance is InstanceTerminating.
const TerminateRetryMinInterval = 60 * time.Second

// TerminateHardDeadline is the point past which an instance stuck in
// InstanceTerminating is force-marked InstanceTerminated regardless of
// backend confirmation.
const TerminateHardDeadline = 16 * time.Minute

// HealthChecker reports whether an instance's shim is currently reachable
// and healthy. Implemented by pkg/shim; injected here so the reconciler
// stays unit-testable without a network.
type HealthChecker interface {
	Check(inst *types.Instance) (healthy bool, hostInfo *types.HostInfo, err error)
}

// InstanceReconciler drives the Instance state machine: pending ->
// provisioning -> idle <-> busy -> terminating -> terminated.
type InstanceReconciler struct {
	store    storage.Store
	registry *compute.Registry
	health   HealthChecker
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewInstanceReconciler builds an InstanceReconciler. health may be nil in
// tests that never exercise the idle/busy healthcheck path.
func NewInstanceReconciler(store storage.Store, registry *compute.Registry, health HealthChecker, clk clock.Clock) *InstanceReconciler {
	return &InstanceReconciler{
		store:    store,
		registry: registry,
		health:   health,
		clock:    clk,
		logger:   log.WithComponent("instance-reconciler"),
	}
}

// Candidates lists every instance not yet in a terminal state.
func (r *InstanceReconciler) Candidates() ([]string, error) {
	instances, err := r.store.ListInstances()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, inst := range instances {
		if inst.Status == types.InstanceTerminated {
			continue
		}
		ids = append(ids, inst.ID)
	}
	return ids, nil
}

// Handle processes one instance by ID. It is registered as a
// pkg/scheduler.Task's Handle.
func (r *InstanceReconciler) Handle(id string) error {
	inst, err := r.store.GetInstance(id)
	if err != nil {
		return err
	}

	switch inst.Status {
	case types.InstancePending:
		err = r.handlePending(inst)
	case types.InstanceProvisioning:
		err = r.handleProvisioning(inst)
	case types.InstanceIdle:
		err = r.handleIdle(inst)
	case types.InstanceBusy:
		err = r.handleBusy(inst)
	case types.InstanceTerminating:
		err = r.handleTerminating(inst)
	}
	if err != nil {
		return err
	}

	inst.LastProcessedAt = r.clock.Now()
	return r.store.UpdateInstance(inst)
}

func (r *InstanceReconciler) handlePending(inst *types.Instance) error {
	now := r.clock.Now()

	if !inst.CreatedAt.IsZero() && now.Sub(inst.CreatedAt) > PendingProvisionTimeout {
		inst.Status = types.InstanceTerminated
		inst.TerminationReason = "Provisioning timeout expired"
		inst.FinishedAt = now
		return nil
	}

	// SSH-attached instances skip backend provisioning entirely: they were
	// never created by a compute.Backend, only adopted.
	if inst.RemoteConnectionInfo != nil {
		inst.Status = types.InstanceProvisioning
		inst.StartedAt = now
		return nil
	}

	if inst.Offer == nil || inst.BackendID == "" {
		inst.Status = types.InstanceTerminated
		inst.TerminationReason = "no offer selected"
		inst.FinishedAt = now
		return nil
	}

	backend, err := r.registry.Get(inst.BackendID)
	if err != nil {
		r.recordBackendCall(inst.BackendID, "CreateInstance", "error", 0)
		inst.Status = types.InstanceTerminated
		inst.TerminationReason = err.Error()
		inst.FinishedAt = now
		r.abortBatchSiblings(inst)
		return nil
	}

	timer := metrics.NewTimer()
	data, err := backend.CreateInstance(compute.CreateInstanceRequest{
		Offer:            *inst.Offer,
		IdempotencyToken: inst.ID,
	})
	r.recordBackendCall(inst.BackendID, "CreateInstance", outcomeOf(err), timer.Duration())

	if err != nil {
		if compute.KindOf(err) == compute.KindCapacityExhausted || compute.KindOf(err) == compute.KindTransient {
			// Leave pending; next tick retries CreateInstance with the
			// same offer until PendingProvisionTimeout.
			inst.TerminationReason = err.Error()
			return nil
		}
		inst.Status = types.InstanceTerminated
		inst.TerminationReason = err.Error()
		inst.FinishedAt = now
		r.abortBatchSiblings(inst)
		return nil
	}

	inst.JobProvisioningData = data
	inst.Status = types.InstanceProvisioning
	inst.StartedAt = now
	return nil
}

// abortBatchSiblings marks every other not-yet-live instance from the same
// cluster-placement batch (fleet.go's growClusterFleet) terminating, so a
// non-retryable CreateInstance failure for one instance doesn't leave its
// siblings stranded as singletons the fleet never intended to place alone.
// No-op for instances outside a cluster-placement batch (BatchID == "").
func (r *InstanceReconciler) abortBatchSiblings(failed *types.Instance) {
	if failed.BatchID == "" || failed.FleetID == "" {
		return
	}
	siblings, err := r.store.ListInstancesByFleet(failed.FleetID)
	if err != nil {
		return
	}
	for _, sib := range siblings {
		if sib.ID == failed.ID || sib.BatchID != failed.BatchID {
			continue
		}
		if sib.Status != types.InstancePending && sib.Status != types.InstanceProvisioning {
			continue
		}
		sib.Status = types.InstanceTerminating
		sib.TerminationReason = "cluster placement batch aborted"
		_ = r.store.UpdateInstance(sib)
	}
}

func (r *InstanceReconciler) handleProvisioning(inst *types.Instance) error {
	now := r.clock.Now()

	if inst.StartedAt.IsZero() {
		inst.StartedAt = now
	}
	if now.Sub(inst.StartedAt) > InstanceProvisionTimeout {
		inst.Status = types.InstanceTerminating
		inst.TerminationReason = "provisioning timeout"
		return nil
	}

	if inst.TerminationDeadline != nil && now.After(*inst.TerminationDeadline) {
		inst.Status = types.InstanceTerminating
		inst.TerminationReason = "Termination deadline"
		return nil
	}

	// Cloud-provisioned instances have their provisioning data refreshed
	// through UpdateProvisioningData on every tick; SSH-attached instances
	// skip straight to the healthcheck.
	if inst.RemoteConnectionInfo == nil && inst.BackendID != "" {
		backend, err := r.registry.Get(inst.BackendID)
		if err == nil {
			timer := metrics.NewTimer()
			data, uerr := backend.UpdateProvisioningData(inst)
			r.recordBackendCall(inst.BackendID, "UpdateProvisioningData", outcomeOf(uerr), timer.Duration())
			if uerr == nil && data != nil {
				inst.JobProvisioningData = data
			}
		}
	}

	if r.health == nil {
		inst.Status = types.InstanceIdle
		inst.TerminationDeadline = nil
		return nil
	}

	healthy, hostInfo, err := r.health.Check(inst)
	if err != nil || !healthy {
		inst.HealthStatus = &types.HealthStatus{Healthy: false, Reason: "healthcheck failed", CheckedAt: now}
		if now.Sub(inst.StartedAt) > ProvisioningHealthGrace && inst.TerminationDeadline == nil {
			deadline := now.Add(types.DefaultRetryWindow)
			inst.TerminationDeadline = &deadline
		}
		return nil // stay provisioning, retried next tick until timeout
	}

	if hostInfo != nil {
		if inst.JobProvisioningData == nil {
			inst.JobProvisioningData = &types.JobProvisioningData{}
		}
		inst.JobProvisioningData.HostInfo = hostInfo
		inst.SharedInfo.TotalBlocks = placement.ResolveTotalBlocks(inst.SharedInfo.TotalBlocksAuto, inst.SharedInfo.TotalBlocks, hostInfo.GPUCount)
	}

	inst.TerminationDeadline = nil
	inst.Status = types.InstanceIdle
	inst.HealthStatus = &types.HealthStatus{Healthy: true, CheckedAt: now}
	return nil
}

func (r *InstanceReconciler) handleIdle(inst *types.Instance) error {
	now := r.clock.Now()

	if inst.ResidualBlocks() < inst.SharedInfo.TotalBlocks {
		inst.Status = types.InstanceBusy
		return nil
	}

	if r.health != nil {
		healthy, _, err := r.health.Check(inst)
		if err != nil || !healthy {
			inst.Unreachable = true
			inst.HealthStatus = &types.HealthStatus{Healthy: false, Reason: "healthcheck failed", CheckedAt: now}
			if inst.TerminationDeadline == nil {
				deadline := now.Add(IdleUnhealthyTerminationGrace)
				inst.TerminationDeadline = &deadline
			}
		} else {
			// A successful healthcheck silently clears a prior unreachable
			// flag: no status message, no event.
			inst.Unreachable = false
			inst.HealthStatus = &types.HealthStatus{Healthy: true, CheckedAt: now}
			inst.TerminationDeadline = nil
		}
	}

	if inst.TerminationDeadline != nil && now.After(*inst.TerminationDeadline) {
		inst.Status = types.InstanceTerminating
		inst.TerminationReason = "Termination deadline"
		return nil
	}

	if inst.TerminationPolicy == types.TerminationDestroyAfterIdle && inst.TerminationIdleTTL > 0 {
		idleSince := inst.LastJobProcessedAt
		if idleSince.IsZero() {
			idleSince = inst.StartedAt
		}
		if now.Sub(idleSince) >= inst.TerminationIdleTTL {
			inst.Status = types.InstanceTerminating
			inst.TerminationReason = "idle timeout"
		}
	}
	return nil
}

func (r *InstanceReconciler) handleBusy(inst *types.Instance) error {
	inst.LastJobProcessedAt = r.clock.Now()
	if inst.ResidualBlocks() >= inst.SharedInfo.TotalBlocks {
		inst.Status = types.InstanceIdle
	}
	return nil
}

func (r *InstanceReconciler) handleTerminating(inst *types.Instance) error {
	now := r.clock.Now()

	if inst.TerminateFirstAttemptAt == nil {
		inst.TerminateFirstAttemptAt = &now
	}
	if now.Sub(*inst.TerminateFirstAttemptAt) >= TerminateHardDeadline {
		inst.Status = types.InstanceTerminated
		inst.FinishedAt = now
		return nil
	}

	if !inst.LastProcessedAt.IsZero() && now.Sub(inst.LastProcessedAt) < TerminateRetryMinInterval {
		return nil // too early to retry the backend call again
	}

	if inst.RemoteConnectionInfo != nil {
		// Nothing to call; an SSH-attached host is simply disowned.
		inst.Status = types.InstanceTerminated
		inst.FinishedAt = now
		return nil
	}

	backend, err := r.registry.Get(inst.BackendID)
	if err != nil {
		inst.Status = types.InstanceTerminated
		inst.FinishedAt = now
		return nil
	}

	backendInstanceID := inst.ID
	if inst.JobProvisioningData != nil && inst.JobProvisioningData.InstanceID != "" {
		backendInstanceID = inst.JobProvisioningData.InstanceID
	}

	timer := metrics.NewTimer()
	err = backend.TerminateInstance(backendInstanceID)
	r.recordBackendCall(inst.BackendID, "TerminateInstance", outcomeOf(err), timer.Duration())

	if err == nil || compute.KindOf(err) == compute.KindNotFound {
		inst.Status = types.InstanceTerminated
		inst.FinishedAt = now
		return nil
	}

	// Transient/capacity/configuration failures: stay terminating, retried
	// next tick no sooner than TerminateRetryMinInterval, until the hard
	// deadline forces a terminal state.
	inst.TerminationReason = err.Error()
	return nil
}

func (r *InstanceReconciler) recordBackendCall(backendID, method, outcome string, d time.Duration) {
	metrics.BackendCallsTotal.WithLabelValues(backendID, method, outcome).Inc()
	metrics.BackendCallDuration.WithLabelValues(backendID, method).Observe(d.Seconds())
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(compute.KindOf(err))
}

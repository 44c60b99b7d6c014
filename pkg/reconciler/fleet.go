package reconciler

import (
	"fmt"
	"sort"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/log"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FleetReconciler maintains a fleet's live instance count within its
// NodeRange, manages the shared PlacementGroup a cluster-placement fleet
// needs, and garbage-collects empty, no-longer-referenced fleets.
type FleetReconciler struct {
	store    storage.Store
	registry *compute.Registry
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewFleetReconciler builds a FleetReconciler.
func NewFleetReconciler(store storage.Store, registry *compute.Registry, clk clock.Clock) *FleetReconciler {
	return &FleetReconciler{store: store, registry: registry, clock: clk, logger: log.WithComponent("fleet-reconciler")}
}

// Candidates lists every fleet not yet terminated.
func (r *FleetReconciler) Candidates() ([]string, error) {
	fleets, err := r.store.ListFleets()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, f := range fleets {
		if f.Status == types.FleetTerminated {
			continue
		}
		ids = append(ids, f.ID)
	}
	return ids, nil
}

// Handle processes one fleet by ID.
func (r *FleetReconciler) Handle(id string) (err error) {
	fleet, err := r.store.GetFleet(id)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			fleet.LastProcessedAt = r.clock.Now()
			err = r.store.UpdateFleet(fleet)
		}
	}()

	instances, err := r.store.ListInstancesByFleet(fleet.ID)
	if err != nil {
		return err
	}
	live := liveInstances(instances)

	if fleet.Deleted {
		return r.handleDeleting(fleet, live)
	}

	if len(live) == 0 && fleet.Spec.Nodes.Min == 0 {
		fleet.Status = types.FleetTerminated
		return r.releaseplacementGroups(fleet)
	}

	if len(live) < fleet.Spec.Nodes.Min {
		if err := r.growFleet(fleet, fleet.Spec.Nodes.Min-len(live)); err != nil {
			return err
		}
		fleet.Status = types.FleetActive
		return nil
	}

	if fleet.Spec.Nodes.Max > 0 && len(live) > fleet.Spec.Nodes.Max {
		if err := r.shrinkFleet(fleet, live, len(live)-fleet.Spec.Nodes.Max); err != nil {
			return err
		}
	}

	fleet.Status = types.FleetActive
	return nil
}

func (r *FleetReconciler) handleDeleting(fleet *types.Fleet, live []*types.Instance) error {
	if len(live) == 0 {
		fleet.Status = types.FleetTerminated
		return r.releaseplacementGroups(fleet)
	}
	fleet.Status = types.FleetTerminating
	for _, inst := range live {
		if inst.Status == types.InstanceTerminating || inst.Status == types.InstanceTerminated {
			continue
		}
		inst.Status = types.InstanceTerminating
		inst.TerminationReason = "scaling_down"
		if err := r.store.UpdateInstance(inst); err != nil {
			return err
		}
	}
	return nil
}

// growFleet provisions `count` new pending instances. For cluster
// placement, every instance in the batch must share one PlacementGroup per
// (backend, region); if the group cannot be created, the whole batch is
// aborted rather than left partially placed.
func (r *FleetReconciler) growFleet(fleet *types.Fleet, count int) error {
	if fleet.Spec.Placement == types.PlacementCluster {
		return r.growClusterFleet(fleet, count)
	}

	for i := 0; i < count; i++ {
		inst := &types.Instance{
			ID:        uuid.NewString(),
			ProjectID: fleet.ProjectID,
			FleetID:   fleet.ID,
			Status:    types.InstancePending,
			SharedInfo: types.SharedInfo{
				TotalBlocksAuto: true,
				TotalBlocks:     1,
			},
			TerminationPolicy:  fleet.Spec.TerminationPolicy,
			TerminationIdleTTL: fleet.Spec.TerminationIdleTTL,
			CreatedAt:          r.clock.Now(),
		}
		if err := r.store.CreateInstance(inst); err != nil {
			return err
		}
	}
	return nil
}

func (r *FleetReconciler) growClusterFleet(fleet *types.Fleet, count int) error {
	batchID := uuid.NewString()
	region := ""
	if len(fleet.Spec.Regions) > 0 {
		region = fleet.Spec.Regions[0]
	}
	backendKind := types.BackendKind("")
	if len(fleet.Spec.Backends) > 0 {
		backendKind = fleet.Spec.Backends[0]
	}
	key := fmt.Sprintf("%s:%s", backendKind, region)

	if fleet.PlacementGroups == nil {
		fleet.PlacementGroups = make(map[string]string)
	}

	if _, ok := fleet.PlacementGroups[key]; !ok {
		pg := &types.PlacementGroup{
			ID:        uuid.NewString(),
			FleetID:   fleet.ID,
			Region:    region,
			CreatedAt: r.clock.Now(),
		}
		if err := r.store.CreatePlacementGroup(pg); err != nil {
			// Whole batch aborts: no instance is created if the shared
			// placement group this batch depends on cannot be established.
			fleet.StatusMessage = fmt.Sprintf("placement group creation failed, aborting batch of %d: %v", count, err)
			return nil
		}
		fleet.PlacementGroups[key] = pg.ID
	}

	for i := 0; i < count; i++ {
		inst := &types.Instance{
			ID:        uuid.NewString(),
			ProjectID: fleet.ProjectID,
			FleetID:   fleet.ID,
			BatchID:   batchID,
			Status:    types.InstancePending,
			SharedInfo: types.SharedInfo{
				TotalBlocksAuto: true,
				TotalBlocks:     1,
			},
			TerminationPolicy:  fleet.Spec.TerminationPolicy,
			TerminationIdleTTL: fleet.Spec.TerminationIdleTTL,
			CreatedAt:          r.clock.Now(),
		}
		if err := r.store.CreateInstance(inst); err != nil {
			return err
		}
	}
	return nil
}

// shrinkFleet marks `count` instances terminating, preferring unhealthy
// instances first, then the oldest by CreatedAt.
func (r *FleetReconciler) shrinkFleet(fleet *types.Fleet, live []*types.Instance, count int) error {
	victims := selectExcess(live, count)
	for _, inst := range victims {
		inst.Status = types.InstanceTerminating
		inst.TerminationReason = "scaling_down"
		if err := r.store.UpdateInstance(inst); err != nil {
			return err
		}
	}
	return nil
}

// selectExcess picks `count` instances to terminate: unhealthy instances
// before healthy ones, oldest before newest within each group.
func selectExcess(live []*types.Instance, count int) []*types.Instance {
	sorted := make([]*types.Instance, len(live))
	copy(sorted, live)
	sort.SliceStable(sorted, func(i, j int) bool {
		iUnhealthy := sorted[i].Unreachable
		jUnhealthy := sorted[j].Unreachable
		if iUnhealthy != jUnhealthy {
			return iUnhealthy
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if count > len(sorted) {
		count = len(sorted)
	}
	return sorted[:count]
}

func (r *FleetReconciler) releaseplacementGroups(fleet *types.Fleet) error {
	for key, pgID := range fleet.PlacementGroups {
		if err := r.store.DeletePlacementGroup(pgID); err != nil {
			return err
		}
		delete(fleet.PlacementGroups, key)
	}
	return nil
}

func liveInstances(instances []*types.Instance) []*types.Instance {
	var out []*types.Instance
	for _, inst := range instances {
		if inst.Status == types.InstanceTerminated {
			continue
		}
		out = append(out, inst)
	}
	return out
}

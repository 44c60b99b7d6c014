package reconciler

import (
	"testing"
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct {
	healthy  bool
	hostInfo *types.HostInfo
	err      error
}

func (f *fakeHealth) Check(inst *types.Instance) (bool, *types.HostInfo, error) {
	return f.healthy, f.hostInfo, f.err
}

type fakeComputeBackend struct {
	createErr    error
	terminateErr error
}

func (f *fakeComputeBackend) GetOffersCached(types.Requirements) ([]types.InstanceOfferWithAvailability, error) {
	return nil, nil
}
func (f *fakeComputeBackend) CreateInstance(compute.CreateInstanceRequest) (*types.JobProvisioningData, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &types.JobProvisioningData{Hostname: "host-1", InstanceID: "backend-1"}, nil
}
func (f *fakeComputeBackend) TerminateInstance(string) error { return f.terminateErr }
func (f *fakeComputeBackend) UpdateProvisioningData(*types.Instance) (*types.JobProvisioningData, error) {
	return nil, nil
}
func (f *fakeComputeBackend) CreatePlacementGroup(string) (string, error) { return "", nil }
func (f *fakeComputeBackend) DeletePlacementGroup(string) error           { return nil }
func (f *fakeComputeBackend) CreateVolume(compute.CreateVolumeRequest) (*types.Volume, error) {
	return nil, nil
}
func (f *fakeComputeBackend) DeleteVolume(string) error          { return nil }
func (f *fakeComputeBackend) AttachVolume(string, string) error  { return nil }
func (f *fakeComputeBackend) DetachVolume(string, string) error  { return nil }
func (f *fakeComputeBackend) RequestLogs(string) (string, error) { return "", nil }

func newTestRegistry(backendID string, b compute.Backend) *compute.Registry {
	reg := compute.NewRegistry()
	reg.Register(backendID, b)
	return reg
}

func TestInstanceReconciler_PendingProvisionsOnSuccess(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := newTestRegistry("b-1", &fakeComputeBackend{})

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstancePending,
		Offer: &types.InstanceOffer{BackendID: "b-1"}}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, nil, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceProvisioning, got.Status)
	assert.NotNil(t, got.JobProvisioningData)
}

func TestInstanceReconciler_ProvisioningGoesIdleOnHealthyShim(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := newTestRegistry("b-1", &fakeComputeBackend{})
	health := &fakeHealth{healthy: true, hostInfo: &types.HostInfo{GPUCount: 8}}

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceProvisioning,
		StartedAt: fake.Now(), SharedInfo: types.SharedInfo{TotalBlocksAuto: true}}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, health, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceIdle, got.Status)
	assert.Equal(t, 8, got.SharedInfo.TotalBlocks)
}

func TestInstanceReconciler_ProvisioningStaysOnUnhealthyShim(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := newTestRegistry("b-1", &fakeComputeBackend{})
	health := &fakeHealth{healthy: false}

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceProvisioning, StartedAt: fake.Now()}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, health, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceProvisioning, got.Status)
}

func TestInstanceReconciler_ProvisioningTimesOutToTerminating(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := newTestRegistry("b-1", &fakeComputeBackend{})

	started := fake.Now().Add(-(InstanceProvisionTimeout + time.Minute))
	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceProvisioning, StartedAt: started}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, nil, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTerminating, got.Status)
}

func TestInstanceReconciler_IdleUnreachableClearsSilentlyOnRecovery(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := newTestRegistry("b-1", &fakeComputeBackend{})
	health := &fakeHealth{healthy: false}

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceIdle,
		SharedInfo: types.SharedInfo{TotalBlocks: 1}}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, health, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.True(t, got.Unreachable)

	health.healthy = true
	require.NoError(t, r.Handle("i-1"))

	got, err = store.GetInstance("i-1")
	require.NoError(t, err)
	assert.False(t, got.Unreachable)
	assert.Empty(t, got.StatusMessage)
}

func TestInstanceReconciler_IdleTimeoutTerminatesAfterIdleTTL(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := newTestRegistry("b-1", &fakeComputeBackend{})

	inst := &types.Instance{
		ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceIdle,
		SharedInfo:          types.SharedInfo{TotalBlocks: 1},
		TerminationPolicy:   types.TerminationDestroyAfterIdle,
		TerminationIdleTTL:  5 * time.Minute,
		StartedAt:           fake.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, nil, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTerminating, got.Status)
}

func TestInstanceReconciler_TerminateRetryNotTooEarly(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	backend := &fakeComputeBackend{terminateErr: &compute.Error{Kind: compute.KindTransient, Message: "still draining"}}
	registry := newTestRegistry("b-1", backend)

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceTerminating, LastProcessedAt: fake.Now()}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, nil, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTerminating, got.Status)
}

func TestInstanceReconciler_TerminateRetriesAfterMinInterval(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	backend := &fakeComputeBackend{}
	registry := newTestRegistry("b-1", backend)

	past := fake.Now().Add(-(TerminateRetryMinInterval + time.Second))
	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceTerminating,
		LastProcessedAt: past, TerminateFirstAttemptAt: &past}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, nil, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTerminated, got.Status)
}

func TestInstanceReconciler_TerminateHitsHardDeadline(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	backend := &fakeComputeBackend{terminateErr: &compute.Error{Kind: compute.KindTransient}}
	registry := newTestRegistry("b-1", backend)

	firstAttempt := fake.Now().Add(-(TerminateHardDeadline + time.Minute))
	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", BackendID: "b-1", Status: types.InstanceTerminating,
		TerminateFirstAttemptAt: &firstAttempt}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, nil, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTerminated, got.Status)
}

func TestInstanceReconciler_BusyReturnsToIdleWhenBlocksFree(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := compute.NewRegistry()

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", Status: types.InstanceBusy,
		SharedInfo: types.SharedInfo{TotalBlocks: 2, BusyBlocks: 0}}
	require.NoError(t, store.CreateInstance(inst))

	r := NewInstanceReconciler(store, registry, nil, fake)
	require.NoError(t, r.Handle("i-1"))

	got, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceIdle, got.Status)
}

package reconciler

import (
	"testing"
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobReconciler_SubmittedPlacesOntoIdleInstance(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", Status: types.InstanceIdle,
		SharedInfo: types.SharedInfo{TotalBlocks: 2, BusyBlocks: 0},
		Offer:      &types.InstanceOffer{CPUs: 4, MemoryBytes: 8 << 30}}
	require.NoError(t, store.CreateInstance(inst))
	require.NoError(t, store.CreateRun(&types.Run{ID: "r-1", ProjectID: "p-1"}))

	job := &types.Job{ID: "j-1", ProjectID: "p-1", RunID: "r-1", Status: types.JobSubmitted,
		JobSpec: types.JobSpec{Ports: []types.PortRequest{{ContainerPort: 8080, HostPort: 0}}}}
	require.NoError(t, store.CreateJob(job))

	r := NewJobReconciler(store, fake)
	require.NoError(t, r.Handle("j-1"))

	got, err := store.GetJob("j-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobProvisioning, got.Status)
	assert.Equal(t, "i-1", got.InstanceID)
	require.NotNil(t, got.JobRuntimeData)
	assert.Equal(t, 8080, got.JobRuntimeData.Ports[8080])

	instAfter, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, 1, instAfter.SharedInfo.BusyBlocks)
	assert.Equal(t, types.InstanceBusy, instAfter.Status)
}

func TestJobReconciler_SubmittedStaysWhenNoCandidateFits(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, store.CreateRun(&types.Run{ID: "r-1", ProjectID: "p-1"}))
	job := &types.Job{ID: "j-1", ProjectID: "p-1", RunID: "r-1", Status: types.JobSubmitted}
	require.NoError(t, store.CreateJob(job))

	r := NewJobReconciler(store, fake)
	require.NoError(t, r.Handle("j-1"))

	got, err := store.GetJob("j-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobSubmitted, got.Status)
}

func TestJobReconciler_ProvisioningWaitsForHostInfo(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", Status: types.InstanceBusy}
	require.NoError(t, store.CreateInstance(inst))
	job := &types.Job{ID: "j-1", ProjectID: "p-1", InstanceID: "i-1", Status: types.JobProvisioning}
	require.NoError(t, store.CreateJob(job))

	r := NewJobReconciler(store, fake)
	require.NoError(t, r.Handle("j-1"))

	got, err := store.GetJob("j-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobProvisioning, got.Status)
}

func TestJobReconciler_ProvisioningAdvancesOncePulled(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", Status: types.InstanceBusy,
		JobProvisioningData: &types.JobProvisioningData{HostInfo: &types.HostInfo{CPUs: 4}}}
	require.NoError(t, store.CreateInstance(inst))
	job := &types.Job{ID: "j-1", ProjectID: "p-1", InstanceID: "i-1", Status: types.JobProvisioning}
	require.NoError(t, store.CreateJob(job))

	r := NewJobReconciler(store, fake)
	require.NoError(t, r.Handle("j-1"))

	got, err := store.GetJob("j-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobPulling, got.Status)
}

func TestJobReconciler_TerminatingReleasesInstanceBlock(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	inst := &types.Instance{ID: "i-1", ProjectID: "p-1", Status: types.InstanceBusy,
		SharedInfo: types.SharedInfo{TotalBlocks: 1, BusyBlocks: 1}}
	require.NoError(t, store.CreateInstance(inst))

	job := &types.Job{ID: "j-1", ProjectID: "p-1", InstanceID: "i-1", InstanceAssigned: true,
		Status: types.JobTerminating, TerminationReason: types.ReasonContainerExitedWithError}
	require.NoError(t, store.CreateJob(job))

	r := NewJobReconciler(store, fake)
	require.NoError(t, r.Handle("j-1"))

	got, err := store.GetJob("j-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, got.Status)

	instAfter, err := store.GetInstance("i-1")
	require.NoError(t, err)
	assert.Equal(t, 0, instAfter.SharedInfo.BusyBlocks)
	assert.Equal(t, types.InstanceIdle, instAfter.Status)
}

func TestJobReconciler_MaxDurationExceededTerminatesAsDone(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	job := &types.Job{ID: "j-1", ProjectID: "p-1", Status: types.JobTerminating,
		TerminationReason: types.ReasonMaxDurationExceeded}
	require.NoError(t, store.CreateJob(job))

	r := NewJobReconciler(store, fake)
	require.NoError(t, r.Handle("j-1"))

	got, err := store.GetJob("j-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobDone, got.Status)
}

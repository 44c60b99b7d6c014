package placement

import (
	"testing"

	"github.com/cuemby/orbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectInstance_MatchesOnResourcesAndPolicy(t *testing.T) {
	req := types.Requirements{CPUs: 2, MemoryBytes: 4 << 30, GPUCount: 1, Spot: types.SpotPolicySpot}
	profile := types.Profile{Backends: []types.BackendKind{types.BackendAWS}, Regions: []string{"us-east-1"}}

	candidates := []CandidateInstance{
		{
			Instance: &types.Instance{ID: "i-1", ProjectID: "p-1", SharedInfo: types.SharedInfo{TotalBlocks: 1, BusyBlocks: 0}},
			Offer:    types.InstanceOffer{BackendKind: types.BackendAWS, Region: "us-east-1", CPUs: 4, MemoryBytes: 8 << 30, GPUCount: 1, Spot: true},
		},
	}

	got := SelectInstance(&types.Job{ID: "j-1"}, "p-1", req, profile, candidates)
	require.NotNil(t, got)
	assert.Equal(t, "i-1", got.ID)
}

func TestSelectInstance_RejectsWrongProject(t *testing.T) {
	candidates := []CandidateInstance{
		{Instance: &types.Instance{ID: "i-1", ProjectID: "other", SharedInfo: types.SharedInfo{TotalBlocks: 1}}},
	}
	got := SelectInstance(&types.Job{}, "p-1", types.Requirements{}, types.Profile{}, candidates)
	assert.Nil(t, got)
}

func TestSelectInstance_RejectsNoResidualCapacity(t *testing.T) {
	candidates := []CandidateInstance{
		{Instance: &types.Instance{ID: "i-1", ProjectID: "p-1", SharedInfo: types.SharedInfo{TotalBlocks: 2, BusyBlocks: 2}}},
	}
	got := SelectInstance(&types.Job{}, "p-1", types.Requirements{}, types.Profile{}, candidates)
	assert.Nil(t, got)
}

func TestSelectInstance_RejectsOverPrice(t *testing.T) {
	req := types.Requirements{MaxPrice: 1.0}
	candidates := []CandidateInstance{
		{
			Instance: &types.Instance{ID: "i-1", ProjectID: "p-1", SharedInfo: types.SharedInfo{TotalBlocks: 1}},
			Offer:    types.InstanceOffer{PricePerHour: 2.0},
		},
	}
	got := SelectInstance(&types.Job{}, "p-1", req, types.Profile{}, candidates)
	assert.Nil(t, got)
}

func TestResolveTotalBlocks(t *testing.T) {
	assert.Equal(t, 8, ResolveTotalBlocks(true, 0, 8))
	assert.Equal(t, 1, ResolveTotalBlocks(true, 0, 1))
	assert.Equal(t, 1, ResolveTotalBlocks(true, 0, 0))
	assert.Equal(t, 3, ResolveTotalBlocks(false, 3, 8))
	assert.Equal(t, 1, ResolveTotalBlocks(false, 0, 8))
}

func TestBlockShare_DividesEvenly(t *testing.T) {
	offer := types.InstanceOffer{CPUs: 16, GPUCount: 8, MemoryBytes: 128 << 30}
	share := BlockShare(offer, 8)
	assert.Equal(t, 2.0, share.CPUs)
	assert.Equal(t, 1, share.GPUs)
	assert.Equal(t, int64(16<<30), share.MemoryBytes)
}

func TestBlockShare_SingleBlockUnshared(t *testing.T) {
	offer := types.InstanceOffer{CPUs: 16, GPUCount: 8, MemoryBytes: 128 << 30}
	share := BlockShare(offer, 1)
	assert.Equal(t, offer.CPUs, share.CPUs)
	assert.Equal(t, offer.GPUCount, share.GPUs)
}

func TestAllocatePorts_ExplicitThenAuto(t *testing.T) {
	requests := []types.PortRequest{
		{ContainerPort: 8080, HostPort: 8080},
		{ContainerPort: 8081, HostPort: 0},
	}
	got, err := AllocatePorts(requests, map[int]bool{})
	require.NoError(t, err)
	assert.Equal(t, 8080, got[8080])
	assert.Equal(t, 8081, got[8081])
}

func TestAllocatePorts_AutoProbesUpwardOnCollision(t *testing.T) {
	requests := []types.PortRequest{{ContainerPort: 8080, HostPort: 0}}
	got, err := AllocatePorts(requests, map[int]bool{8080: true, 8081: true})
	require.NoError(t, err)
	assert.Equal(t, 8082, got[8080])
}

func TestAllocatePorts_ExplicitCollisionErrors(t *testing.T) {
	requests := []types.PortRequest{{ContainerPort: 8080, HostPort: 8080}}
	_, err := AllocatePorts(requests, map[int]bool{8080: true})
	assert.Error(t, err)
}

func TestAllocatePorts_InjectiveAcrossMultipleAuto(t *testing.T) {
	requests := []types.PortRequest{
		{ContainerPort: 8080, HostPort: 0},
		{ContainerPort: 8081, HostPort: 0},
	}
	got, err := AllocatePorts(requests, map[int]bool{})
	require.NoError(t, err)
	assert.NotEqual(t, got[8080], got[8081])
}

func TestInUsePorts_CollectsFromRuntimeData(t *testing.T) {
	jobs := []*types.Job{
		{JobRuntimeData: &types.JobRuntimeData{Ports: map[int]int{80: 8080}}},
		{JobRuntimeData: nil},
	}
	inUse := InUsePorts(jobs)
	assert.True(t, inUse[8080])
}

package offer

import (
	"testing"

	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	offers []types.InstanceOfferWithAvailability
	calls  int
	err    error
}

func (f *fakeBackend) GetOffersCached(req types.Requirements) ([]types.InstanceOfferWithAvailability, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.offers, nil
}
func (f *fakeBackend) CreateInstance(compute.CreateInstanceRequest) (*types.JobProvisioningData, error) {
	return nil, nil
}
func (f *fakeBackend) TerminateInstance(string) error { return nil }
func (f *fakeBackend) UpdateProvisioningData(*types.Instance) (*types.JobProvisioningData, error) {
	return nil, nil
}
func (f *fakeBackend) CreatePlacementGroup(string) (string, error) { return "", nil }
func (f *fakeBackend) DeletePlacementGroup(string) error           { return nil }
func (f *fakeBackend) CreateVolume(compute.CreateVolumeRequest) (*types.Volume, error) {
	return nil, nil
}
func (f *fakeBackend) DeleteVolume(string) error             { return nil }
func (f *fakeBackend) AttachVolume(string, string) error     { return nil }
func (f *fakeBackend) DetachVolume(string, string) error     { return nil }
func (f *fakeBackend) RequestLogs(string) (string, error)    { return "", nil }

func TestEngine_FiltersRanksAndCaches(t *testing.T) {
	registry := compute.NewRegistry()
	backend := &fakeBackend{offers: []types.InstanceOfferWithAvailability{
		{InstanceOffer: types.InstanceOffer{BackendID: "b-1", Region: "us-east-1", CPUs: 4, MemoryBytes: 8 << 30, PricePerHour: 2.0}, Availability: types.AvailabilityAvailable},
		{InstanceOffer: types.InstanceOffer{BackendID: "b-1", Region: "us-east-1", CPUs: 4, MemoryBytes: 8 << 30, PricePerHour: 1.0}, Availability: types.AvailabilityAvailable},
		{InstanceOffer: types.InstanceOffer{BackendID: "b-1", Region: "us-west-2", CPUs: 4, MemoryBytes: 8 << 30, PricePerHour: 0.5}, Availability: types.AvailabilityNoCapacity},
	}}
	registry.Register("b-1", backend)

	e := New(registry)
	req := types.Requirements{CPUs: 2, MemoryBytes: 4 << 30, Regions: []string{"us-east-1"}}

	offers, err := e.Get([]string{"b-1"}, req)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, 1.0, offers[0].PricePerHour)

	// Second call within the TTL should not re-fetch from the backend.
	_, err = e.Get([]string{"b-1"}, req)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)
}

func TestEngine_TopKTruncates(t *testing.T) {
	registry := compute.NewRegistry()
	var offers []types.InstanceOfferWithAvailability
	for i := 0; i < 60; i++ {
		offers = append(offers, types.InstanceOfferWithAvailability{
			InstanceOffer: types.InstanceOffer{BackendID: "b-1", InstanceTypeName: string(rune('a' + i%26)), PricePerHour: float64(i)},
			Availability:  types.AvailabilityAvailable,
		})
	}
	registry.Register("b-1", &fakeBackend{offers: offers})

	e := New(registry)
	got, err := e.Get([]string{"b-1"}, types.Requirements{})
	require.NoError(t, err)
	assert.Len(t, got, DefaultTopK)
}

func TestEngine_OneBackendErrorDoesNotAbortOthers(t *testing.T) {
	registry := compute.NewRegistry()
	registry.Register("broken", &fakeBackend{err: assertErr{}})
	registry.Register("ok", &fakeBackend{offers: []types.InstanceOfferWithAvailability{
		{InstanceOffer: types.InstanceOffer{BackendID: "ok", PricePerHour: 1.0}, Availability: types.AvailabilityAvailable},
	}})

	e := New(registry)
	got, err := e.Get([]string{"broken", "ok"}, types.Requirements{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].BackendID)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

// Package compute defines the adapter boundary between orbiter's
// reconcilers and the cloud/SSH backends that actually create and destroy
// resources.
//
// The aws, azure, gcp and local adapters implement Backend. Reconcilers
// never import a concrete adapter package directly; they go through a
// Registry keyed by backend ID, so adding a backend never touches
// pkg/reconciler.
package compute

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/orbiter/pkg/types"
)

// Backend is the full set of operations a reconciler needs from a cloud or
// SSH provider. Every method is expected to be idempotent when called again
// with the same IdempotencyToken.
type Backend interface {
	// GetOffersCached returns candidate offers matching req. Implementations
	// are expected to cache upstream price-list/availability calls
	// themselves; pkg/offer adds a second layer of caching on top keyed by
	// (backend, hash(requirements)).
	GetOffersCached(req types.Requirements) ([]types.InstanceOfferWithAvailability, error)

	// CreateInstance provisions a host matching offer and returns the
	// connection details the reconciler needs to reach it. A request
	// carrying the same IdempotencyToken as a prior in-flight or completed
	// call must not create a second instance.
	CreateInstance(req CreateInstanceRequest) (*types.JobProvisioningData, error)

	// TerminateInstance requests deletion of the backend-native resource.
	// Must tolerate being called more than once for the same instance
	// (e.g. after a retry) without erroring.
	TerminateInstance(backendInstanceID string) error

	// UpdateProvisioningData refreshes JobProvisioningData for an instance
	// still in InstanceProvisioning — polling an async create operation
	// referenced by BackendData.
	UpdateProvisioningData(inst *types.Instance) (*types.JobProvisioningData, error)

	CreatePlacementGroup(region string) (backendRef string, err error)
	DeletePlacementGroup(backendRef string) error

	CreateVolume(req CreateVolumeRequest) (*types.Volume, error)
	DeleteVolume(backendVolumeID string) error
	AttachVolume(backendInstanceID, backendVolumeID string) error
	DetachVolume(backendInstanceID, backendVolumeID string) error

	// RequestLogs fetches the backend-native console/boot log for an
	// instance that never came up (used to enrich failure messages).
	RequestLogs(backendInstanceID string) (string, error)
}

// CreateInstanceRequest is what the reconciler hands to Backend.CreateInstance.
type CreateInstanceRequest struct {
	Offer             types.InstanceOffer
	IdempotencyToken  string
	PlacementGroupRef string // "" unless the fleet requires cluster placement
	PublicKey         string // SSH key to inject, when the backend supports it
}

// CreateVolumeRequest is what the reconciler hands to Backend.CreateVolume.
type CreateVolumeRequest struct {
	ProjectID        string
	Region           string
	SizeBytes        int64
	IdempotencyToken string
}

// Registry resolves a configured backend ID to its Backend instance.
// One Registry is built at startup from pkg/config and shared by every
// reconciler task.
type Registry struct {
	backends map[string]Backend // keyed by Backend.ID, not Kind: a project may configure several accounts of the same kind
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds a configured Backend.ID to its adapter instance.
func (r *Registry) Register(backendID string, b Backend) {
	r.backends[backendID] = b
}

// Get returns the adapter for backendID, or an error tagged KindConfiguration
// if nothing was registered under that ID (e.g. the backend was deleted out
// from under an in-flight reconciliation).
func (r *Registry) Get(backendID string) (Backend, error) {
	b, ok := r.backends[backendID]
	if !ok {
		return nil, &Error{Kind: KindConfiguration, Backend: backendID, Message: "no adapter registered for backend"}
	}
	return b, nil
}

// RetryAfter returns the jittered delay before retry number attempt on an
// exponential schedule with base 2s and cap 60s, using cenkalti/backoff's
// curve rather than a hand-rolled one. Neither the adapters nor
// pkg/reconciler call it: adapters make each provider call once, and the
// reconcilers retry KindTransient and KindCapacityExhausted failures on
// their next tick.
func RetryAfter(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0 // never give up; the reconciler owns how long it keeps retrying

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	if d > b.MaxInterval {
		d = b.MaxInterval
	}
	return d
}

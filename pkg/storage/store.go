package storage

import (
	"time"

	"github.com/cuemby/orbiter/pkg/types"
)

// ErrNotFound is returned by Get* methods when the requested entity does not
// exist. It is a struct type, not a sentinel value: callers match it with
// errors.As or a type assertion on *ErrNotFound.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.ID
}

// Store defines the persistence interface the dispatcher and reconcilers use
// to read and mutate orbiter's control-plane state. A single implementation
// (BoltStore) backs production use; an in-memory implementation backs fast
// unit tests.
type Store interface {
	// Projects
	CreateProject(p *types.Project) error
	GetProject(id string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	DeleteProject(id string) error

	// Backends
	CreateBackend(b *types.Backend) error
	GetBackend(id string) (*types.Backend, error)
	ListBackends() ([]*types.Backend, error)
	ListBackendsByProject(projectID string) ([]*types.Backend, error)
	UpdateBackend(b *types.Backend) error
	DeleteBackend(id string) error

	// Pools
	CreatePool(p *types.Pool) error
	GetPool(id string) (*types.Pool, error)
	ListPoolsByProject(projectID string) ([]*types.Pool, error)
	DeletePool(id string) error

	// Fleets
	CreateFleet(f *types.Fleet) error
	GetFleet(id string) (*types.Fleet, error)
	ListFleets() ([]*types.Fleet, error)
	ListFleetsByProject(projectID string) ([]*types.Fleet, error)
	UpdateFleet(f *types.Fleet) error
	DeleteFleet(id string) error

	// Instances
	CreateInstance(i *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	ListInstancesByFleet(fleetID string) ([]*types.Instance, error)
	ListInstancesByPool(poolID string) ([]*types.Instance, error)
	UpdateInstance(i *types.Instance) error
	DeleteInstance(id string) error

	// Runs
	CreateRun(r *types.Run) error
	GetRun(id string) (*types.Run, error)
	ListRuns() ([]*types.Run, error)
	ListRunsByProject(projectID string) ([]*types.Run, error)
	UpdateRun(r *types.Run) error
	DeleteRun(id string) error

	// Jobs
	CreateJob(j *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByRun(runID string) ([]*types.Job, error)
	ListJobsByInstance(instanceID string) ([]*types.Job, error)
	UpdateJob(j *types.Job) error
	DeleteJob(id string) error

	// Volumes
	CreateVolume(v *types.Volume) error
	GetVolume(id string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	UpdateVolume(v *types.Volume) error
	DeleteVolume(id string) error

	// Placement groups
	CreatePlacementGroup(pg *types.PlacementGroup) error
	GetPlacementGroup(id string) (*types.PlacementGroup, error)
	ListPlacementGroupsByFleet(fleetID string) ([]*types.PlacementGroup, error)
	DeletePlacementGroup(id string) error

	// Leasing: entities are leased by kind+id so two dispatcher workers never
	// process the same entity concurrently, emulating `SELECT ... FOR UPDATE
	// SKIP LOCKED` on top of an embedded KV store (see pkg/scheduler).
	//
	// LeaseBatch filters candidateIDs down to those of kind whose lease has
	// expired as of now (or was never held), marks up to limit of them
	// leased until leaseUntil, and returns the leased subset in input order.
	LeaseBatch(kind string, candidateIDs []string, now, leaseUntil time.Time, limit int) ([]string, error)
	// Release drops the lease on (kind, id) immediately, e.g. after a
	// reconciler finishes processing it early.
	Release(kind, id string) error

	// Close releases underlying resources.
	Close() error
}

package storage

import (
	"sync"
	"time"

	"github.com/cuemby/orbiter/pkg/types"
)

// MemStore is an in-memory Store used by reconciler/dispatcher unit tests
// that don't need to exercise bbolt's on-disk behavior.
type MemStore struct {
	mu sync.Mutex

	projects        map[string]*types.Project
	backends        map[string]*types.Backend
	pools           map[string]*types.Pool
	fleets          map[string]*types.Fleet
	instances       map[string]*types.Instance
	runs            map[string]*types.Run
	jobs            map[string]*types.Job
	volumes         map[string]*types.Volume
	placementGroups map[string]*types.PlacementGroup
	leases          map[string]time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		projects:        make(map[string]*types.Project),
		backends:        make(map[string]*types.Backend),
		pools:           make(map[string]*types.Pool),
		fleets:          make(map[string]*types.Fleet),
		instances:       make(map[string]*types.Instance),
		runs:            make(map[string]*types.Run),
		jobs:            make(map[string]*types.Job),
		volumes:         make(map[string]*types.Volume),
		placementGroups: make(map[string]*types.PlacementGroup),
		leases:          make(map[string]time.Time),
	}
}

func (s *MemStore) Close() error { return nil }

// --- Projects ---

func (s *MemStore) CreateProject(p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *MemStore) GetProject(id string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "project", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) ListProjects() ([]*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

// --- Backends ---

func (s *MemStore) CreateBackend(b *types.Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.backends[b.ID] = &cp
	return nil
}

func (s *MemStore) GetBackend(id string) (*types.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backends[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "backend", ID: id}
	}
	cp := *b
	return &cp, nil
}

func (s *MemStore) ListBackends() ([]*types.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Backend, 0, len(s.backends))
	for _, b := range s.backends {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) ListBackendsByProject(projectID string) ([]*types.Backend, error) {
	all, _ := s.ListBackends()
	var out []*types.Backend
	for _, b := range all {
		if b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateBackend(b *types.Backend) error { return s.CreateBackend(b) }

func (s *MemStore) DeleteBackend(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backends, id)
	return nil
}

// --- Pools ---

func (s *MemStore) CreatePool(p *types.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemStore) GetPool(id string) (*types.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "pool", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) ListPoolsByProject(projectID string) ([]*types.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Pool
	for _, p := range s.pools {
		if p.ProjectID == projectID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) DeletePool(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, id)
	return nil
}

// --- Fleets ---

func (s *MemStore) CreateFleet(f *types.Fleet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.fleets[f.ID] = &cp
	return nil
}

func (s *MemStore) GetFleet(id string) (*types.Fleet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fleets[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "fleet", ID: id}
	}
	cp := *f
	return &cp, nil
}

func (s *MemStore) ListFleets() ([]*types.Fleet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Fleet, 0, len(s.fleets))
	for _, f := range s.fleets {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) ListFleetsByProject(projectID string) ([]*types.Fleet, error) {
	all, _ := s.ListFleets()
	var out []*types.Fleet
	for _, f := range all {
		if f.ProjectID == projectID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateFleet(f *types.Fleet) error { return s.CreateFleet(f) }

func (s *MemStore) DeleteFleet(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fleets, id)
	return nil
}

// --- Instances ---

func (s *MemStore) CreateInstance(i *types.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.instances[i.ID] = &cp
	return nil
}

func (s *MemStore) GetInstance(id string) (*types.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.instances[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "instance", ID: id}
	}
	cp := *i
	return &cp, nil
}

func (s *MemStore) ListInstances() ([]*types.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Instance, 0, len(s.instances))
	for _, i := range s.instances {
		cp := *i
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) ListInstancesByFleet(fleetID string) ([]*types.Instance, error) {
	all, _ := s.ListInstances()
	var out []*types.Instance
	for _, i := range all {
		if i.FleetID == fleetID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *MemStore) ListInstancesByPool(poolID string) ([]*types.Instance, error) {
	all, _ := s.ListInstances()
	var out []*types.Instance
	for _, i := range all {
		if i.PoolID == poolID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateInstance(i *types.Instance) error { return s.CreateInstance(i) }

func (s *MemStore) DeleteInstance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
	return nil
}

// --- Runs ---

func (s *MemStore) CreateRun(r *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *MemStore) GetRun(id string) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "run", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) ListRuns() ([]*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) ListRunsByProject(projectID string) ([]*types.Run, error) {
	all, _ := s.ListRuns()
	var out []*types.Run
	for _, r := range all {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateRun(r *types.Run) error { return s.CreateRun(r) }

func (s *MemStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	return nil
}

// --- Jobs ---

func (s *MemStore) CreateJob(j *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemStore) GetJob(id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "job", ID: id}
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) ListJobs() ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) ListJobsByRun(runID string) ([]*types.Job, error) {
	all, _ := s.ListJobs()
	var out []*types.Job
	for _, j := range all {
		if j.RunID == runID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *MemStore) ListJobsByInstance(instanceID string) ([]*types.Job, error) {
	all, _ := s.ListJobs()
	var out []*types.Job
	for _, j := range all {
		if j.InstanceID == instanceID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateJob(j *types.Job) error { return s.CreateJob(j) }

func (s *MemStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// --- Volumes ---

func (s *MemStore) CreateVolume(v *types.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.volumes[v.ID] = &cp
	return nil
}

func (s *MemStore) GetVolume(id string) (*types.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volumes[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "volume", ID: id}
	}
	cp := *v
	return &cp, nil
}

func (s *MemStore) ListVolumes() ([]*types.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Volume, 0, len(s.volumes))
	for _, v := range s.volumes {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) UpdateVolume(v *types.Volume) error { return s.CreateVolume(v) }

func (s *MemStore) DeleteVolume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.volumes, id)
	return nil
}

// --- Placement groups ---

func (s *MemStore) CreatePlacementGroup(pg *types.PlacementGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pg
	s.placementGroups[pg.ID] = &cp
	return nil
}

func (s *MemStore) GetPlacementGroup(id string) (*types.PlacementGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.placementGroups[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "placement_group", ID: id}
	}
	cp := *pg
	return &cp, nil
}

func (s *MemStore) ListPlacementGroupsByFleet(fleetID string) ([]*types.PlacementGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PlacementGroup
	for _, pg := range s.placementGroups {
		if pg.FleetID == fleetID {
			cp := *pg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) DeletePlacementGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.placementGroups, id)
	return nil
}

// --- Leasing ---

func (s *MemStore) LeaseBatch(kind string, candidateIDs []string, now, leaseUntil time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var leased []string
	for _, id := range candidateIDs {
		if limit > 0 && len(leased) >= limit {
			break
		}
		key := kind + ":" + id
		if until, ok := s.leases[key]; ok && until.After(now) {
			continue
		}
		s.leases[key] = leaseUntil
		leased = append(leased, id)
	}
	return leased, nil
}

func (s *MemStore) Release(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, kind+":"+id)
	return nil
}

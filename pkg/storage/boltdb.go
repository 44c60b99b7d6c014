package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/orbiter/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProjects        = []byte("projects")
	bucketBackends        = []byte("backends")
	bucketPools           = []byte("pools")
	bucketFleets          = []byte("fleets")
	bucketInstances       = []byte("instances")
	bucketRuns            = []byte("runs")
	bucketJobs            = []byte("jobs")
	bucketVolumes         = []byte("volumes")
	bucketPlacementGroups = []byte("placement_groups")
	bucketLeases          = []byte("leases")
)

// BoltStore implements Store using an embedded bbolt database: one bucket per
// entity kind holding JSON-encoded blobs keyed by ID, plus a leases bucket
// used to emulate row-level locking (see Store.LeaseBatch).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the orbiter database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "orbiter.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects,
			bucketBackends,
			bucketPools,
			bucketFleets,
			bucketInstances,
			bucketRuns,
			bucketJobs,
			bucketVolumes,
			bucketPlacementGroups,
			bucketLeases,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, id string, v interface{}) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func get(tx *bolt.Tx, bucket []byte, id string, entity string, v interface{}) error {
	b := tx.Bucket(bucket)
	data := b.Get([]byte(id))
	if data == nil {
		return &ErrNotFound{Entity: entity, ID: id}
	}
	return json.Unmarshal(data, v)
}

// --- Projects ---

func (s *BoltStore) CreateProject(p *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketProjects, p.ID, p) })
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var p types.Project
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketProjects, id, "project", &p) })
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var out []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteProject(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketProjects).Delete([]byte(id)) })
}

// --- Backends ---

func (s *BoltStore) CreateBackend(b *types.Backend) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketBackends, b.ID, b) })
}

func (s *BoltStore) GetBackend(id string) (*types.Backend, error) {
	var b types.Backend
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketBackends, id, "backend", &b) })
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltStore) ListBackends() ([]*types.Backend, error) {
	var out []*types.Backend
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackends).ForEach(func(k, v []byte) error {
			var b types.Backend
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, &b)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListBackendsByProject(projectID string) ([]*types.Backend, error) {
	all, err := s.ListBackends()
	if err != nil {
		return nil, err
	}
	var out []*types.Backend
	for _, b := range all {
		if b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateBackend(b *types.Backend) error { return s.CreateBackend(b) }

func (s *BoltStore) DeleteBackend(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketBackends).Delete([]byte(id)) })
}

// --- Pools ---

func (s *BoltStore) CreatePool(p *types.Pool) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketPools, p.ID, p) })
}

func (s *BoltStore) GetPool(id string) (*types.Pool, error) {
	var p types.Pool
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketPools, id, "pool", &p) })
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPoolsByProject(projectID string) ([]*types.Pool, error) {
	var out []*types.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPools).ForEach(func(k, v []byte) error {
			var p types.Pool
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.ProjectID == projectID {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeletePool(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketPools).Delete([]byte(id)) })
}

// --- Fleets ---

func (s *BoltStore) CreateFleet(f *types.Fleet) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketFleets, f.ID, f) })
}

func (s *BoltStore) GetFleet(id string) (*types.Fleet, error) {
	var f types.Fleet
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketFleets, id, "fleet", &f) })
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *BoltStore) ListFleets() ([]*types.Fleet, error) {
	var out []*types.Fleet
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFleets).ForEach(func(k, v []byte) error {
			var f types.Fleet
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			out = append(out, &f)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListFleetsByProject(projectID string) ([]*types.Fleet, error) {
	all, err := s.ListFleets()
	if err != nil {
		return nil, err
	}
	var out []*types.Fleet
	for _, f := range all {
		if f.ProjectID == projectID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateFleet(f *types.Fleet) error { return s.CreateFleet(f) }

func (s *BoltStore) DeleteFleet(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketFleets).Delete([]byte(id)) })
}

// --- Instances ---

func (s *BoltStore) CreateInstance(i *types.Instance) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketInstances, i.ID, i) })
}

func (s *BoltStore) GetInstance(id string) (*types.Instance, error) {
	var i types.Instance
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketInstances, id, "instance", &i) })
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var out []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var i types.Instance
			if err := json.Unmarshal(v, &i); err != nil {
				return err
			}
			out = append(out, &i)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListInstancesByFleet(fleetID string) ([]*types.Instance, error) {
	all, err := s.ListInstances()
	if err != nil {
		return nil, err
	}
	var out []*types.Instance
	for _, i := range all {
		if i.FleetID == fleetID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *BoltStore) ListInstancesByPool(poolID string) ([]*types.Instance, error) {
	all, err := s.ListInstances()
	if err != nil {
		return nil, err
	}
	var out []*types.Instance
	for _, i := range all {
		if i.PoolID == poolID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateInstance(i *types.Instance) error { return s.CreateInstance(i) }

func (s *BoltStore) DeleteInstance(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketInstances).Delete([]byte(id)) })
}

// --- Runs ---

func (s *BoltStore) CreateRun(r *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketRuns, r.ID, r) })
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var r types.Run
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketRuns, id, "run", &r) })
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListRuns() ([]*types.Run, error) {
	var out []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var r types.Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListRunsByProject(projectID string) ([]*types.Run, error) {
	all, err := s.ListRuns()
	if err != nil {
		return nil, err
	}
	var out []*types.Run
	for _, r := range all {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateRun(r *types.Run) error { return s.CreateRun(r) }

func (s *BoltStore) DeleteRun(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketRuns).Delete([]byte(id)) })
}

// --- Jobs ---

func (s *BoltStore) CreateJob(j *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketJobs, j.ID, j) })
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var j types.Job
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketJobs, id, "job", &j) })
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var out []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			out = append(out, &j)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListJobsByRun(runID string) ([]*types.Job, error) {
	all, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	var out []*types.Job
	for _, j := range all {
		if j.RunID == runID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *BoltStore) ListJobsByInstance(instanceID string) ([]*types.Job, error) {
	all, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	var out []*types.Job
	for _, j := range all {
		if j.InstanceID == instanceID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateJob(j *types.Job) error { return s.CreateJob(j) }

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketJobs).Delete([]byte(id)) })
}

// --- Volumes ---

func (s *BoltStore) CreateVolume(v *types.Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketVolumes, v.ID, v) })
}

func (s *BoltStore) GetVolume(id string) (*types.Volume, error) {
	var v types.Volume
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketVolumes, id, "volume", &v) })
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BoltStore) ListVolumes() ([]*types.Volume, error) {
	var out []*types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var vol types.Volume
			if err := json.Unmarshal(v, &vol); err != nil {
				return err
			}
			out = append(out, &vol)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateVolume(v *types.Volume) error { return s.CreateVolume(v) }

func (s *BoltStore) DeleteVolume(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(bucketVolumes).Delete([]byte(id)) })
}

// --- Placement groups ---

func (s *BoltStore) CreatePlacementGroup(pg *types.PlacementGroup) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketPlacementGroups, pg.ID, pg) })
}

func (s *BoltStore) GetPlacementGroup(id string) (*types.PlacementGroup, error) {
	var pg types.PlacementGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketPlacementGroups, id, "placement_group", &pg)
	})
	if err != nil {
		return nil, err
	}
	return &pg, nil
}

func (s *BoltStore) ListPlacementGroupsByFleet(fleetID string) ([]*types.PlacementGroup, error) {
	var out []*types.PlacementGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlacementGroups).ForEach(func(k, v []byte) error {
			var pg types.PlacementGroup
			if err := json.Unmarshal(v, &pg); err != nil {
				return err
			}
			if pg.FleetID == fleetID {
				out = append(out, &pg)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeletePlacementGroup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlacementGroups).Delete([]byte(id))
	})
}

// --- Leasing ---

type leaseRecord struct {
	LeaseUntil time.Time `json:"lease_until"`
}

func leaseKey(kind, id string) []byte {
	return []byte(kind + ":" + id)
}

// LeaseBatch implements Store.LeaseBatch: a single bbolt write transaction
// reads and updates the leases bucket, so concurrent dispatcher workers
// calling this never lease the same ID twice (bbolt serializes writers).
func (s *BoltStore) LeaseBatch(kind string, candidateIDs []string, now, leaseUntil time.Time, limit int) ([]string, error) {
	var leased []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		for _, id := range candidateIDs {
			if limit > 0 && len(leased) >= limit {
				break
			}
			key := leaseKey(kind, id)
			data := b.Get(key)
			if data != nil {
				var rec leaseRecord
				if err := json.Unmarshal(data, &rec); err == nil && rec.LeaseUntil.After(now) {
					continue // still leased by someone else
				}
			}
			rec := leaseRecord{LeaseUntil: leaseUntil}
			encoded, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(key, encoded); err != nil {
				return err
			}
			leased = append(leased, id)
		}
		return nil
	})
	return leased, err
}

// Release drops the lease on (kind, id).
func (s *BoltStore) Release(kind, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLeases).Delete(leaseKey(kind, id))
	})
}

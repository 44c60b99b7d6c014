/*
Package storage persists orbiter's control-plane state: projects, backends,
pools, fleets, instances, runs, jobs, volumes and placement groups.

BoltStore is the production implementation, backed by an embedded bbolt
database with one bucket per entity kind holding JSON-encoded blobs keyed by
ID. MemStore is an in-memory implementation for fast reconciler/dispatcher
unit tests; both satisfy the same Store interface.

# Leasing

Entities are claimed by the dispatcher via LeaseBatch, which emulates
`SELECT ... FOR UPDATE SKIP LOCKED` on top of a KV store: a companion leases
bucket/map records a lease_until timestamp per (kind, id), and
LeaseBatch atomically skips any ID whose lease has not yet expired. This is
what lets multiple dispatcher workers pull from the same task's candidate
list without double-processing an entity (see pkg/scheduler).

# See Also

  - pkg/types for the entities persisted here
  - pkg/scheduler for the dispatcher that drives LeaseBatch/Release
*/
package storage

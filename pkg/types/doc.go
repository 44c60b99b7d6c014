/*
Package types defines the core data structures used throughout orbiter.

This package contains the domain model shared by every reconciler: projects,
backends, pools, fleets, instances, runs and jobs, plus the value types
(Requirements, InstanceOffer, JobProvisioningData) the offer engine and the
job placement logic pass between each other.

# Core Types

Compute topology:
  - Project, Backend, Pool: tenancy and credential scoping
  - Fleet: a declared group of instances maintained to a node-count target
  - Instance: a compute host, cloud-provisioned or SSH-attached

Workloads:
  - Run: a user-submitted workload, a supervisor over its Jobs
  - Job: one execution attempt of one (node, replica) slot of a Run

Placement:
  - Requirements, Profile: what a Job or Fleet needs
  - InstanceOffer, InstanceOfferWithAvailability: what a backend can give

All types are JSON-serializable; pkg/storage persists them as JSON blobs.
Mutations are not synchronized by the types themselves — callers (always a
reconciler holding the entity's lease) are responsible for serialization.

# See Also

  - pkg/storage for persistence
  - pkg/reconciler for the state machines that mutate these types
  - pkg/offer for Requirements/Offer matching
  - pkg/compute for the ComputeBackend adapter contract
*/
package types

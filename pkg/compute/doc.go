/*
Package compute defines the Backend interface reconcilers use to create,
poll and terminate resources on a concrete cloud or SSH target, plus the
Error/Kind taxonomy (capacity_exhausted, transient, configuration, not_found,
constraint_violation, scheduler_fault) that lets a reconciler react correctly
without knowing which cloud produced the failure.

Concrete adapters live in sibling packages (pkg/compute/aws,
pkg/compute/azure, pkg/compute/gcp and pkg/compute/local) and are wired
into a Registry at startup by cmd/orbiter's buildRegistry from the
pkg/config backend list, keyed by Backend.ID.

# See Also

  - pkg/reconciler/instance.go, the only reconciler that calls Backend
  - pkg/offer, which layers availability-aware caching on GetOffersCached
*/
package compute

/*
Package reconciler holds the four state-machine handlers registered as
pkg/scheduler.Tasks: InstanceReconciler, JobReconciler, RunReconciler and
FleetReconciler. Each implements the transition table for its
entity, reading and writing through pkg/storage.Store and pkg/compute.Backend,
with placement decisions delegated to the pure functions in pkg/placement.

This generalizes a
single combined Reconciler (which only knew about Nodes and Containers):
four narrow reconcilers instead of one, each owning one entity's state
machine and wired into the dispatcher as an independent Task so a slow
Run tick never blocks Instance reconciliation.

# See Also

  - pkg/scheduler for the dispatcher that drives these Handlers
  - pkg/placement for the pure matching/allocation logic Job/Instance use
  - pkg/compute for the Backend interface Instance calls into
*/
package reconciler

/*
Package scheduler runs orbiter's periodic reconciliation tasks.

A Dispatcher holds a registry of named Tasks (instances, jobs, runs,
fleets), each on its own ticker. On every tick, a task lists candidate
entity IDs, leases a bounded batch of them via pkg/storage.Store.LeaseBatch
(stale-lease batch selection, emulating `SELECT ... FOR UPDATE SKIP
LOCKED`), and dispatches each leased ID to its Handler on a single shared
worker pool sized to cpu×4.

A handler's panic or error is logged and counted, never fatal: the entity
stays unleased once the lease expires and is retried on a later tick. This
is the generalized form of two independent tickers
(Reconciler.run and Scheduler.run); orbiter has one dispatcher and four
tasks instead of two bespoke loops.

# See Also

  - pkg/reconciler for the Handler implementations registered as tasks
  - pkg/storage for LeaseBatch/Release
*/
package scheduler

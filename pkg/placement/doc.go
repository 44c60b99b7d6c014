/*
Package placement implements the pure job-to-instance matching predicate,
the auto/explicit total_blocks rule, per-block
resource share computation, and the validate-then-probe-upward port
allocator. Nothing here touches pkg/storage or pkg/clock; pkg/reconciler/job.go
is the main caller, responsible for fetching candidates and persisting the
result, and pkg/reconciler/instance.go calls ResolveTotalBlocks.
*/
package placement

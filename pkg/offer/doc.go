/*
Package offer implements the offer engine: a cached,
per-backend fetch (patrickmn/go-cache, keyed by backend ID and
mitchellh/hashstructure/v2 hash of the Requirements), a filter pass
(samber/lo) dropping offers that fail region/spot/disk/price/availability
constraints, a stable rank (availability, then price, then backend/region/
type tuple), and top-K truncation (DefaultTopK=50).

Engine.Get is deterministic given a warm cache: the same Requirements value
always hashes to the same cache key, and ranking ties break on a fixed
tuple rather than map iteration order.
*/
package offer

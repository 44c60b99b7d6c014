// Package offer implements the four-step offer engine: per
// backend cached fetch, filter, rank, top-K truncation. It is the layer
// between pkg/compute (one GetOffersCached call per backend) and
// pkg/placement (which matches a specific job against a specific
// instance, not an offer list).
package offer

import (
	"sort"
	"time"

	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/metrics"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/mitchellh/hashstructure/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
)

// DefaultTopK is the maximum number of ranked offers Engine.Get returns.
const DefaultTopK = 50

// DefaultCacheTTL is how long a backend's raw offer list is cached before
// GetOffersCached is called again.
const DefaultCacheTTL = 60 * time.Second

// Engine fetches, filters, ranks and caches offers across every registered
// backend.
type Engine struct {
	registry *compute.Registry
	cache    *gocache.Cache
	topK     int
}

// New creates an Engine backed by registry, caching raw per-backend offer
// lists for DefaultCacheTTL.
func New(registry *compute.Registry) *Engine {
	return &Engine{
		registry: registry,
		cache:    gocache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
		topK:     DefaultTopK,
	}
}

// Get runs the full pipeline for req across every backend in backendIDs:
// cached fetch, filter, rank, top-K. Pure with respect to req given a warm
// cache; a cache miss calls out to compute.Backend.GetOffersCached.
func (e *Engine) Get(backendIDs []string, req types.Requirements) ([]types.InstanceOfferWithAvailability, error) {
	var all []types.InstanceOfferWithAvailability

	for _, backendID := range backendIDs {
		offers, err := e.getCached(backendID, req)
		if err != nil {
			metrics.OfferCacheHits.WithLabelValues(backendID, "error").Inc()
			continue // one backend's failure doesn't abort the whole fetch
		}
		all = append(all, offers...)
	}

	filtered := filter(all, req)
	ranked := rank(filtered)

	if len(ranked) > e.topK {
		ranked = ranked[:e.topK]
	}
	return ranked, nil
}

func (e *Engine) getCached(backendID string, req types.Requirements) ([]types.InstanceOfferWithAvailability, error) {
	key, err := cacheKey(backendID, req)
	if err != nil {
		return nil, err
	}

	if cached, ok := e.cache.Get(key); ok {
		metrics.OfferCacheHits.WithLabelValues(backendID, "hit").Inc()
		return cached.([]types.InstanceOfferWithAvailability), nil
	}

	b, err := e.registry.Get(backendID)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	offers, err := b.GetOffersCached(req)
	timer.ObserveDurationVec(metrics.OfferFetchDuration, backendID)
	if err != nil {
		return nil, err
	}

	metrics.OfferCacheHits.WithLabelValues(backendID, "miss").Inc()
	e.cache.Set(key, offers, gocache.DefaultExpiration)
	return offers, nil
}

func cacheKey(backendID string, req types.Requirements) (string, error) {
	h, err := hashstructure.Hash(req, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return backendID + ":" + uintToString(h), nil
}

func uintToString(h uint64) string {
	const digits = "0123456789"
	if h == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for h > 0 {
		i--
		buf[i] = digits[h%10]
		h /= 10
	}
	return string(buf[i:])
}

// filter drops offers that fail region/spot/disk/price/GPU/CPU/memory
// constraints or that the backend reports as unavailable. Offers carry no
// reservation or placement-group data, so req.Reservation is not checked
// here.
func filter(offers []types.InstanceOfferWithAvailability, req types.Requirements) []types.InstanceOfferWithAvailability {
	return lo.Filter(offers, func(o types.InstanceOfferWithAvailability, _ int) bool {
		if o.Availability == types.AvailabilityNoQuota || o.Availability == types.AvailabilityNoCapacity {
			return false
		}
		if len(req.Regions) > 0 && !lo.Contains(req.Regions, o.Region) {
			return false
		}
		if req.Spot == types.SpotPolicySpot && !o.Spot {
			return false
		}
		if req.Spot == types.SpotPolicyOnDemand && o.Spot {
			return false
		}
		if o.DiskBytes > 0 && req.DiskBytes > 0 && o.DiskBytes < req.DiskBytes {
			return false
		}
		if req.MaxPrice > 0 && o.PricePerHour > req.MaxPrice {
			return false
		}
		if req.GPUCount > 0 && o.GPUCount < req.GPUCount {
			return false
		}
		if req.GPUName != "" && o.GPUName != req.GPUName {
			return false
		}
		if o.CPUs < req.CPUs {
			return false
		}
		if o.MemoryBytes < req.MemoryBytes {
			return false
		}
		return true
	})
}

// rank orders offers by availability (available/idle before others),
// then price ascending, then a stable (backend, region, instance type)
// tuple so ties don't flap between calls.
func rank(offers []types.InstanceOfferWithAvailability) []types.InstanceOfferWithAvailability {
	out := make([]types.InstanceOfferWithAvailability, len(offers))
	copy(out, offers)

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := availabilityRank(out[i].Availability), availabilityRank(out[j].Availability)
		if ai != aj {
			return ai < aj
		}
		if out[i].PricePerHour != out[j].PricePerHour {
			return out[i].PricePerHour < out[j].PricePerHour
		}
		if out[i].BackendID != out[j].BackendID {
			return out[i].BackendID < out[j].BackendID
		}
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].InstanceTypeName < out[j].InstanceTypeName
	})
	return out
}

func availabilityRank(a types.Availability) int {
	switch a {
	case types.AvailabilityAvailable:
		return 0
	case types.AvailabilityIdle:
		return 1
	default:
		return 2
	}
}

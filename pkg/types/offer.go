package types

// Requirements expresses the resource and policy constraints a Job or
// Fleet places on candidate instances/offers.
type Requirements struct {
	CPUs        float64
	MemoryBytes int64
	GPUCount    int
	GPUName     string // "" = any
	DiskBytes   int64

	Spot        SpotPolicy
	Backends    []BackendKind
	Regions     []string
	MaxPrice    float64 // 0 = unset
	Reservation string
	PlacementGroup string // non-empty when placement=cluster requires a group
}

// Profile carries the non-resource placement policy (which backends/regions
// to consider) that accompanies a Requirements value.
type Profile struct {
	Backends []BackendKind // empty = all enabled backends
	Regions  []string
}

// Availability is a backend's self-reported offer availability, used by the
// offer engine's ranking step.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityIdle      Availability = "idle" // reusable idle instance
	AvailabilityNoQuota   Availability = "no_quota"
	AvailabilityNoCapacity Availability = "no_capacity"
)

// InstanceOffer is a candidate (backend, region, instance type, price)
// tuple, without availability information.
type InstanceOffer struct {
	BackendID        string
	BackendKind      BackendKind
	Region           string
	InstanceTypeName string
	CPUs             float64
	MemoryBytes      int64
	GPUCount         int
	GPUName          string
	DiskBytes        int64
	Spot             bool
	PricePerHour     float64
}

// InstanceOfferWithAvailability pairs an offer with the backend's current
// availability signal, as returned by ComputeBackend.GetOffersCached.
type InstanceOfferWithAvailability struct {
	InstanceOffer
	Availability Availability
}

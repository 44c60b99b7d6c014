// Package placement implements the pure matching and allocation logic the
// job reconciler uses to bind a Job to an Instance: the matching predicate
// that decides whether an instance can host a job, the block/port
// bookkeeping that follows once it does, and the resource-share
// computation reported in JobRuntimeData.
//
// Every function here is pure with respect to its inputs: no store access,
// no clock, no I/O. That keeps the hardest-to-get-right logic in the system
// trivially unit-testable and lets pkg/reconciler stay a thin orchestration
// layer around it.
package placement

import (
	"fmt"
	"sort"

	"github.com/cuemby/orbiter/pkg/types"
)

// CandidateInstance is the subset of Instance fields SelectInstance needs,
// kept separate from types.Instance so callers can batch-fetch cheaply.
type CandidateInstance struct {
	Instance *types.Instance
	Offer    types.InstanceOffer // the offer the instance was created from
}

// SelectInstance applies the job-to-instance matching predicate (clauses
// a-f below) and returns the first candidate that satisfies every clause,
// or nil if none does. Candidates are expected pre-filtered to the run's
// project and to instances in Pending/Idle/Busy with residual capacity;
// SelectInstance re-checks the residual-blocks clause defensively.
func SelectInstance(job *types.Job, projectID string, req types.Requirements, profile types.Profile, candidates []CandidateInstance) *types.Instance {
	for _, c := range candidates {
		if matches(job, projectID, req, profile, c) {
			return c.Instance
		}
	}
	return nil
}

func matches(job *types.Job, projectID string, req types.Requirements, profile types.Profile, c CandidateInstance) bool {
	inst := c.Instance

	// (a) project_id equal
	if inst.ProjectID != projectID {
		return false
	}

	// (b) residual blocks >= 1
	if inst.ResidualBlocks() < 1 {
		return false
	}

	// (c) per-block resources satisfy Requirements
	share := BlockShare(c.Offer, inst.SharedInfo.TotalBlocks)
	if share.CPUs < req.CPUs {
		return false
	}
	if share.MemoryBytes < req.MemoryBytes {
		return false
	}
	if req.GPUCount > 0 && share.GPUs < req.GPUCount {
		return false
	}
	if req.GPUName != "" && c.Offer.GPUName != req.GPUName {
		return false
	}

	// (d) backend/region/spot match profile
	if len(profile.Backends) > 0 && !containsKind(profile.Backends, c.Offer.BackendKind) {
		return false
	}
	if len(profile.Regions) > 0 && !containsString(profile.Regions, c.Offer.Region) {
		return false
	}
	if req.Spot == types.SpotPolicySpot && !c.Offer.Spot {
		return false
	}
	if req.Spot == types.SpotPolicyOnDemand && c.Offer.Spot {
		return false
	}

	// (e) price <= max_price
	if req.MaxPrice > 0 && c.Offer.PricePerHour > req.MaxPrice {
		return false
	}

	// (f) reservation/placement_group constraints
	if req.Reservation != "" && inst.BackendData != req.Reservation {
		return false
	}
	if req.PlacementGroup != "" && inst.FleetID == "" {
		return false
	}

	return true
}

func containsKind(ks []types.BackendKind, k types.BackendKind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// BlockShare computes the per-block resource slice of an offer when it is
// divided into totalBlocks equal blocks. totalBlocks<=1 returns the whole
// offer unshared.
func BlockShare(offer types.InstanceOffer, totalBlocks int) types.JobRuntimeData {
	if totalBlocks <= 1 {
		return types.JobRuntimeData{
			CPUs:        offer.CPUs,
			GPUs:        offer.GPUCount,
			MemoryBytes: offer.MemoryBytes,
		}
	}
	return types.JobRuntimeData{
		CPUs:        offer.CPUs / float64(totalBlocks),
		GPUs:        offer.GPUCount / totalBlocks,
		MemoryBytes: offer.MemoryBytes / int64(totalBlocks),
	}
}

// ResolveTotalBlocks applies the auto/explicit total_blocks rule: explicit
// values pass through unchanged; auto resolves to GPUCount
// when GPUCount>=2, else 1 (a single-GPU or CPU-only host is never split).
func ResolveTotalBlocks(auto bool, explicit int, gpuCount int) int {
	if !auto {
		if explicit <= 0 {
			return 1
		}
		return explicit
	}
	if gpuCount >= 2 {
		return gpuCount
	}
	return 1
}

// AllocatePorts maps each PortRequest's ContainerPort to a HostPort on an
// instance, given the set of host ports already in use by other jobs on
// that instance. Explicit (non-zero) HostPort requests are validated for
// collisions first; auto (zero) requests then probe upward from
// ContainerPort for the first free port. Returns an error if any explicit
// mapping collides or no free port can be found below 65536.
func AllocatePorts(requests []types.PortRequest, inUse map[int]bool) (map[int]int, error) {
	result := make(map[int]int, len(requests))
	reserved := make(map[int]bool, len(inUse))
	for p, used := range inUse {
		reserved[p] = used
	}

	// Explicit mappings first, so an auto request can't steal a port an
	// explicit one in the same batch is about to claim.
	var explicit, auto []types.PortRequest
	for _, r := range requests {
		if r.HostPort != 0 {
			explicit = append(explicit, r)
		} else {
			auto = append(auto, r)
		}
	}

	for _, r := range explicit {
		if reserved[r.HostPort] {
			return nil, fmt.Errorf("host port %d requested for container port %d is already in use", r.HostPort, r.ContainerPort)
		}
		reserved[r.HostPort] = true
		result[r.ContainerPort] = r.HostPort
	}

	for _, r := range auto {
		port := r.ContainerPort
		if port <= 0 || port > 65535 {
			port = 1024
		}
		for reserved[port] {
			port++
			if port > 65535 {
				return nil, fmt.Errorf("no free host port available for container port %d", r.ContainerPort)
			}
		}
		reserved[port] = true
		result[r.ContainerPort] = port
	}

	return result, nil
}

// InUsePorts collects the host ports already claimed by other jobs'
// JobRuntimeData on the same instance, for AllocatePorts' inUse argument.
func InUsePorts(jobs []*types.Job) map[int]bool {
	inUse := make(map[int]bool)
	for _, j := range jobs {
		if j.JobRuntimeData == nil {
			continue
		}
		for _, hostPort := range j.JobRuntimeData.Ports {
			inUse[hostPort] = true
		}
	}
	return inUse
}

// sortedCandidates orders candidates by (ResidualBlocks desc, PricePerHour
// asc, InstanceID) for deterministic test expectations; SelectInstance
// itself takes candidates pre-ordered by the caller (pkg/reconciler), since
// that ordering also encodes bin-packing vs spread policy.
func sortedCandidates(candidates []CandidateInstance) []CandidateInstance {
	out := make([]CandidateInstance, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Instance.ResidualBlocks() != out[j].Instance.ResidualBlocks() {
			return out[i].Instance.ResidualBlocks() > out[j].Instance.ResidualBlocks()
		}
		if out[i].Offer.PricePerHour != out[j].Offer.PricePerHour {
			return out[i].Offer.PricePerHour < out[j].Offer.PricePerHour
		}
		return out[i].Instance.ID < out[j].Instance.ID
	})
	return out
}

// Package local implements compute.Backend against processes on the same
// host orbiter runs on. It exists for development and single-node
// deployments where there is no cloud account to provision against: an
// "instance" is a long-lived subprocess. Its health is probed by the same
// pkg/shim HTTP client as every other instance.
package local

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/types"
)

// Backend is a trivial compute.Backend that reports one fixed offer (the
// host's own static resource profile) and "creates" instances by forking a
// long-running command, tracked in memory only.
type Backend struct {
	id        string
	region    string
	launchCmd []string
	profile   types.InstanceOffer

	mu        sync.Mutex
	processes map[string]*exec.Cmd // keyed by the synthetic instance id we hand back
}

// Config describes the fixed host profile and the command used to start
// one unit of work (e.g. a wrapper script that execs the job's container
// runtime equivalent for this backend).
type Config struct {
	BackendID   string
	Region      string
	LaunchCmd   []string
	CPUs        float64
	MemoryBytes int64
	DiskBytes   int64
}

func New(cfg Config) *Backend {
	return &Backend{
		id:        cfg.BackendID,
		region:    cfg.Region,
		launchCmd: cfg.LaunchCmd,
		profile: types.InstanceOffer{
			BackendID:        cfg.BackendID,
			BackendKind:      types.BackendLocal,
			Region:           cfg.Region,
			InstanceTypeName: "local",
			CPUs:             cfg.CPUs,
			MemoryBytes:      cfg.MemoryBytes,
			DiskBytes:        cfg.DiskBytes,
		},
		processes: make(map[string]*exec.Cmd),
	}
}

func (b *Backend) GetOffersCached(req types.Requirements) ([]types.InstanceOfferWithAvailability, error) {
	if req.CPUs > b.profile.CPUs || req.MemoryBytes > b.profile.MemoryBytes {
		return nil, nil
	}
	return []types.InstanceOfferWithAvailability{
		{InstanceOffer: b.profile, Availability: types.AvailabilityAvailable},
	}, nil
}

func (b *Backend) CreateInstance(req compute.CreateInstanceRequest) (*types.JobProvisioningData, error) {
	if len(b.launchCmd) == 0 {
		return nil, &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "local backend has no launch_cmd configured"}
	}

	cmd := exec.Command(b.launchCmd[0], b.launchCmd[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, &compute.Error{Kind: compute.KindTransient, Backend: b.id, Message: "failed to start local process", Cause: err}
	}

	id := fmt.Sprintf("local-%d", cmd.Process.Pid)
	b.mu.Lock()
	b.processes[id] = cmd
	b.mu.Unlock()

	return &types.JobProvisioningData{
		Hostname:   "127.0.0.1",
		InternalIP: "127.0.0.1",
		PublicIP:   "127.0.0.1",
		InstanceID: id,
	}, nil
}

func (b *Backend) TerminateInstance(backendInstanceID string) error {
	b.mu.Lock()
	cmd, ok := b.processes[backendInstanceID]
	delete(b.processes, backendInstanceID)
	b.mu.Unlock()

	if !ok {
		return &compute.Error{Kind: compute.KindNotFound, Backend: b.id, Message: "no such local process"}
	}
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (b *Backend) UpdateProvisioningData(inst *types.Instance) (*types.JobProvisioningData, error) {
	return inst.JobProvisioningData, nil
}

func (b *Backend) CreatePlacementGroup(region string) (string, error) {
	return "", &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "local backend does not support placement groups"}
}

func (b *Backend) DeletePlacementGroup(backendRef string) error { return nil }

func (b *Backend) CreateVolume(req compute.CreateVolumeRequest) (*types.Volume, error) {
	return nil, &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "local backend does not support volumes"}
}

func (b *Backend) DeleteVolume(backendVolumeID string) error { return nil }

func (b *Backend) AttachVolume(backendInstanceID, backendVolumeID string) error {
	return &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "local backend does not support volumes"}
}

func (b *Backend) DetachVolume(backendInstanceID, backendVolumeID string) error { return nil }

func (b *Backend) RequestLogs(backendInstanceID string) (string, error) {
	return "", &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "local backend does not capture logs"}
}

// Package gcp implements compute.Backend against Google Compute Engine.
// Offer discovery reads the zone's published machine types; provisioning
// uses the zonal Instances API directly rather than an Instance Template,
// since orbiter generates the instance shape itself from an InstanceOffer.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/types"
	gcompute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Backend implements compute.Backend against one GCP project/zone set.
type Backend struct {
	id        string
	projectID string
	zone      string
	svc       *gcompute.Service
}

// New builds a Backend from a decrypted GCP service-account key JSON blob
// (see pkg/security.SecretsManager.DecryptBackendCredential). regions[0]
// selects the zone, following the "first configured region wins"
// convention also used by pkg/compute/aws.
func New(ctx context.Context, backendID, projectID string, regions []string, rawCredential []byte) (*Backend, error) {
	svc, err := gcompute.NewService(ctx, option.WithCredentialsJSON(rawCredential))
	if err != nil {
		return nil, fmt.Errorf("build gce client: %w", err)
	}

	zone := "us-central1-a"
	if len(regions) > 0 {
		zone = regions[0] + "-a"
	}

	return &Backend{id: backendID, projectID: projectID, zone: zone, svc: svc}, nil
}

func (b *Backend) GetOffersCached(req types.Requirements) ([]types.InstanceOfferWithAvailability, error) {
	out, err := b.svc.MachineTypes.List(b.projectID, b.zone).Do()
	if err != nil {
		return nil, wrapErr(b.id, err)
	}

	var offers []types.InstanceOfferWithAvailability
	for _, mt := range out.Items {
		cpus := float64(mt.GuestCpus)
		memBytes := mt.MemoryMb * 1024 * 1024
		if cpus < req.CPUs || memBytes < req.MemoryBytes {
			continue
		}
		if req.GPUCount > 0 {
			continue // accelerator-attached shapes need the Accelerators API, not modeled here
		}

		offers = append(offers, types.InstanceOfferWithAvailability{
			InstanceOffer: types.InstanceOffer{
				BackendID:        b.id,
				BackendKind:      types.BackendGCP,
				Region:           b.zone,
				InstanceTypeName: mt.Name,
				CPUs:             cpus,
				MemoryBytes:      memBytes,
			},
			Availability: types.AvailabilityAvailable,
		})
	}
	return offers, nil
}

func (b *Backend) CreateInstance(req compute.CreateInstanceRequest) (*types.JobProvisioningData, error) {
	name := instanceName(req.IdempotencyToken)

	inst := &gcompute.Instance{
		Name:        name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", b.zone, req.Offer.InstanceTypeName),
		Disks: []*gcompute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &gcompute.AttachedDiskInitializeParams{
				SourceImage: "projects/debian-cloud/global/images/family/debian-12",
			},
		}},
		NetworkInterfaces: []*gcompute.NetworkInterface{{
			Network:       "global/networks/default",
			AccessConfigs: []*gcompute.AccessConfig{{Type: "ONE_TO_ONE_NAT", Name: "External NAT"}},
		}},
	}
	if req.PublicKey != "" {
		inst.Metadata = &gcompute.Metadata{Items: []*gcompute.MetadataItems{{
			Key:   "ssh-keys",
			Value: googleapi.String("orbiter:" + req.PublicKey),
		}}}
	}

	if _, err := b.svc.Instances.Insert(b.projectID, b.zone, inst).Do(); err != nil {
		return nil, wrapErr(b.id, err)
	}

	return &types.JobProvisioningData{InstanceID: name}, nil
}

func (b *Backend) TerminateInstance(backendInstanceID string) error {
	_, err := b.svc.Instances.Delete(b.projectID, b.zone, backendInstanceID).Do()
	return wrapErr(b.id, err)
}

func (b *Backend) UpdateProvisioningData(inst *types.Instance) (*types.JobProvisioningData, error) {
	if inst.JobProvisioningData == nil || inst.JobProvisioningData.InstanceID == "" {
		return inst.JobProvisioningData, nil
	}

	gceInst, err := b.svc.Instances.Get(b.projectID, b.zone, inst.JobProvisioningData.InstanceID).Do()
	if err != nil {
		return nil, wrapErr(b.id, err)
	}

	data := *inst.JobProvisioningData
	if len(gceInst.NetworkInterfaces) > 0 {
		ni := gceInst.NetworkInterfaces[0]
		data.InternalIP = ni.NetworkIP
		if len(ni.AccessConfigs) > 0 {
			data.PublicIP = ni.AccessConfigs[0].NatIP
		}
	}
	data.Hostname = data.PublicIP
	return &data, nil
}

func (b *Backend) CreatePlacementGroup(region string) (string, error) {
	return "", &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "gcp adapter does not yet support resource policies (cluster placement)"}
}

func (b *Backend) DeletePlacementGroup(backendRef string) error { return nil }

func (b *Backend) CreateVolume(req compute.CreateVolumeRequest) (*types.Volume, error) {
	name := instanceName(req.IdempotencyToken)
	_, err := b.svc.Disks.Insert(b.projectID, b.zone, &gcompute.Disk{
		Name:   name,
		SizeGb: req.SizeBytes / (1 << 30),
	}).Do()
	if err != nil {
		return nil, wrapErr(b.id, err)
	}
	return &types.Volume{ID: name, ProjectID: req.ProjectID, Region: b.zone, SizeBytes: req.SizeBytes, Status: types.VolumeActive}, nil
}

func (b *Backend) DeleteVolume(backendVolumeID string) error {
	_, err := b.svc.Disks.Delete(b.projectID, b.zone, backendVolumeID).Do()
	return wrapErr(b.id, err)
}

func (b *Backend) AttachVolume(backendInstanceID, backendVolumeID string) error {
	source := fmt.Sprintf("projects/%s/zones/%s/disks/%s", b.projectID, b.zone, backendVolumeID)
	_, err := b.svc.Instances.AttachDisk(b.projectID, b.zone, backendInstanceID, &gcompute.AttachedDisk{Source: source}).Do()
	return wrapErr(b.id, err)
}

func (b *Backend) DetachVolume(backendInstanceID, backendVolumeID string) error {
	_, err := b.svc.Instances.DetachDisk(b.projectID, b.zone, backendInstanceID, backendVolumeID).Do()
	return wrapErr(b.id, err)
}

func (b *Backend) RequestLogs(backendInstanceID string) (string, error) {
	out, err := b.svc.Instances.GetSerialPortOutput(b.projectID, b.zone, backendInstanceID).Do()
	if err != nil {
		return "", wrapErr(b.id, err)
	}
	return out.Contents, nil
}

func instanceName(idempotencyToken string) string {
	token := strings.ToLower(idempotencyToken)
	if len(token) > 20 {
		token = token[:20]
	}
	return "orbiter-" + token
}

// wrapErr classifies a googleapi.Error's HTTP status into orbiter's
// compute.Kind taxonomy, the same status-code-sniffing pattern
// google.golang.org/api callers are expected to use.
func wrapErr(backendID string, err error) error {
	if err == nil {
		return nil
	}
	kind := compute.KindTransient
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 404:
			kind = compute.KindNotFound
		case 400, 403:
			kind = compute.KindConfiguration
		case 429, 503:
			kind = compute.KindTransient
		}
	}
	return &compute.Error{Kind: kind, Backend: backendID, Message: err.Error(), Cause: err}
}

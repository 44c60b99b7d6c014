// Package azure implements compute.Backend against Azure Virtual Machines.
// Unlike aws and gcp, Azure has no implicit default network: CreateInstance
// attaches a pre-provisioned network interface named in the backend's
// credential document rather than creating one, which is the one
// significant capability gap against the other two cloud adapters (see
// DESIGN.md).
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"

	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/types"
)

// credentialDoc is the JSON shape orbiter expects behind
// types.Backend.EncryptedCredential for an Azure backend: a service
// principal plus the fixed resource group/network interface orbiter
// provisions into.
type credentialDoc struct {
	TenantID            string `json:"tenant_id"`
	ClientID            string `json:"client_id"`
	ClientSecret        string `json:"client_secret"`
	SubscriptionID      string `json:"subscription_id"`
	ResourceGroup       string `json:"resource_group"`
	NetworkInterfaceID  string `json:"network_interface_id"`
	ImageReference      string `json:"image_reference"`
	AdminUsername       string `json:"admin_username"`
}

// Backend implements compute.Backend against one Azure subscription/
// resource group. Placement groups and managed disks are not implemented
// (see DESIGN.md): the create and attach calls return
// compute.KindConfiguration, and the delete and detach calls return nil
// without calling Azure.
type Backend struct {
	id            string
	resourceGroup string
	location      string
	imageRef      string
	nicID         string
	adminUsername string

	vms   *armcompute.VirtualMachinesClient
	sizes *armcompute.VirtualMachineSizesClient
}

// New builds a Backend from a decrypted credential blob (see
// pkg/security.SecretsManager.DecryptBackendCredential) and the regions
// (Azure locations) the Backend record authorizes.
func New(ctx context.Context, backendID string, regions []string, rawCredential []byte) (*Backend, error) {
	var doc credentialDoc
	if err := json.Unmarshal(rawCredential, &doc); err != nil {
		return nil, fmt.Errorf("parse azure credential: %w", err)
	}

	cred, err := azidentity.NewClientSecretCredential(doc.TenantID, doc.ClientID, doc.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("build azure credential: %w", err)
	}

	vms, err := armcompute.NewVirtualMachinesClient(doc.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("build azure vm client: %w", err)
	}
	sizes, err := armcompute.NewVirtualMachineSizesClient(doc.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("build azure vm sizes client: %w", err)
	}

	location := "eastus"
	if len(regions) > 0 {
		location = regions[0]
	}

	return &Backend{
		id:            backendID,
		resourceGroup: doc.ResourceGroup,
		location:      location,
		imageRef:      doc.ImageReference,
		nicID:         doc.NetworkInterfaceID,
		adminUsername: doc.AdminUsername,
		vms:           vms,
		sizes:         sizes,
	}, nil
}

func (b *Backend) GetOffersCached(req types.Requirements) ([]types.InstanceOfferWithAvailability, error) {
	ctx := context.Background()
	pager := b.sizes.NewListPager(b.location, nil)

	var offers []types.InstanceOfferWithAvailability
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrapErr(b.id, err)
		}
		for _, sz := range page.Value {
			if sz.Name == nil || sz.NumberOfCores == nil || sz.MemoryInMB == nil {
				continue
			}
			cpus := float64(*sz.NumberOfCores)
			memBytes := int64(*sz.MemoryInMB) * 1024 * 1024
			if cpus < req.CPUs || memBytes < req.MemoryBytes {
				continue
			}

			offers = append(offers, types.InstanceOfferWithAvailability{
				InstanceOffer: types.InstanceOffer{
					BackendID:        b.id,
					BackendKind:      types.BackendAzure,
					Region:           b.location,
					InstanceTypeName: *sz.Name,
					CPUs:             cpus,
					MemoryBytes:      memBytes,
				},
				Availability: types.AvailabilityAvailable,
			})
		}
	}
	return offers, nil
}

func (b *Backend) CreateInstance(req compute.CreateInstanceRequest) (*types.JobProvisioningData, error) {
	if b.nicID == "" {
		return nil, &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "azure backend has no network_interface_id configured"}
	}

	name := instanceName(req.IdempotencyToken)
	vm := armcompute.VirtualMachine{
		Location: to(b.location),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: (*armcompute.VirtualMachineSizeTypes)(to(req.Offer.InstanceTypeName)),
			},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &armcompute.ImageReference{ID: to(b.imageRef)},
			},
			OSProfile: &armcompute.OSProfile{
				ComputerName:  to(name),
				AdminUsername: to(b.adminUsername),
				LinuxConfiguration: &armcompute.LinuxConfiguration{
					SSH: sshConfig(req.PublicKey, b.adminUsername),
				},
			},
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{ID: to(b.nicID)}},
			},
		},
	}

	ctx := context.Background()
	poller, err := b.vms.BeginCreateOrUpdate(ctx, b.resourceGroup, name, vm, nil)
	if err != nil {
		return nil, wrapErr(b.id, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return nil, wrapErr(b.id, err)
	}

	return &types.JobProvisioningData{InstanceID: name}, nil
}

func (b *Backend) TerminateInstance(backendInstanceID string) error {
	ctx := context.Background()
	poller, err := b.vms.BeginDelete(ctx, b.resourceGroup, backendInstanceID, nil)
	if err != nil {
		return wrapErr(b.id, err)
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return wrapErr(b.id, err)
}

// UpdateProvisioningData confirms the VM still exists. Azure reports
// instance IP addresses on the network interface resource, not the VM
// resource; resolving PublicIP/InternalIP here would require wiring the
// network interfaces client too, which this adapter does not yet do.
func (b *Backend) UpdateProvisioningData(inst *types.Instance) (*types.JobProvisioningData, error) {
	if inst.JobProvisioningData == nil || inst.JobProvisioningData.InstanceID == "" {
		return inst.JobProvisioningData, nil
	}
	if _, err := b.vms.Get(context.Background(), b.resourceGroup, inst.JobProvisioningData.InstanceID, nil); err != nil {
		return nil, wrapErr(b.id, err)
	}
	return inst.JobProvisioningData, nil
}

func (b *Backend) CreatePlacementGroup(region string) (string, error) {
	return "", &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "azure adapter does not yet support proximity placement groups"}
}

func (b *Backend) DeletePlacementGroup(backendRef string) error { return nil }

func (b *Backend) CreateVolume(req compute.CreateVolumeRequest) (*types.Volume, error) {
	return nil, &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "azure adapter does not yet support managed disks"}
}

func (b *Backend) DeleteVolume(backendVolumeID string) error { return nil }

func (b *Backend) AttachVolume(backendInstanceID, backendVolumeID string) error {
	return &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "azure adapter does not yet support managed disks"}
}

func (b *Backend) DetachVolume(backendInstanceID, backendVolumeID string) error { return nil }

func (b *Backend) RequestLogs(backendInstanceID string) (string, error) {
	return "", &compute.Error{Kind: compute.KindConfiguration, Backend: b.id, Message: "azure adapter does not yet support boot diagnostics retrieval"}
}

func sshConfig(publicKey, adminUsername string) *armcompute.SSHConfiguration {
	if publicKey == "" {
		return nil
	}
	return &armcompute.SSHConfiguration{
		PublicKeys: []*armcompute.SSHPublicKey{{
			Path:    to(fmt.Sprintf("/home/%s/.ssh/authorized_keys", adminUsername)),
			KeyData: to(publicKey),
		}},
	}
}

func instanceName(idempotencyToken string) string {
	token := idempotencyToken
	if len(token) > 20 {
		token = token[:20]
	}
	return "orbiter-" + token
}

func to[T any](v T) *T { return &v }

// wrapErr classifies an azcore.ResponseError's HTTP status into orbiter's
// compute.Kind taxonomy.
func wrapErr(backendID string, err error) error {
	if err == nil {
		return nil
	}
	kind := compute.KindTransient
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			kind = compute.KindNotFound
		case 400, 401, 403:
			kind = compute.KindConfiguration
		case 429, 503:
			kind = compute.KindTransient
		}
	}
	return &compute.Error{Kind: kind, Backend: backendID, Message: err.Error(), Cause: err}
}

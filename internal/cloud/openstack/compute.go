package openstack

import (
	"context"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/volumeattach"
)

// computeService implements ComputeAPI on top of a Nova service client.
type computeService struct {
	client *gophercloud.ServiceClient
}

// NewComputeAPI wraps a compute v2 service client.
func NewComputeAPI(client *gophercloud.ServiceClient) ComputeAPI {
	return &computeService{client: client}
}

func (s *computeService) GetServer(ctx context.Context, serverID string) (*servers.Server, error) {
	return servers.Get(ctx, s.client, serverID).Extract()
}

func (s *computeService) CreateServer(ctx context.Context, opts servers.CreateOpts) (*servers.Server, error) {
	return servers.Create(ctx, s.client, opts, nil).Extract()
}

func (s *computeService) DeleteServer(ctx context.Context, serverID string) error {
	return servers.Delete(ctx, s.client, serverID).ExtractErr()
}

func (s *computeService) RebootServer(ctx context.Context, serverID string) error {
	return servers.Reboot(ctx, s.client, serverID, servers.RebootOpts{Type: servers.SoftReboot}).ExtractErr()
}

func (s *computeService) UpdateServerMetadata(ctx context.Context, serverID string, metadata map[string]string) error {
	_, err := servers.UpdateMetadata(ctx, s.client, serverID, servers.MetadataOpts(metadata)).Extract()
	return err
}

func (s *computeService) ListFlavors(ctx context.Context) ([]flavors.Flavor, error) {
	pages, err := flavors.ListDetail(s.client, flavors.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	return flavors.ExtractFlavors(pages)
}

func (s *computeService) AttachVolume(ctx context.Context, serverID, volumeID string) (*volumeattach.VolumeAttachment, error) {
	opts := volumeattach.CreateOpts{VolumeID: volumeID}
	return volumeattach.Create(ctx, s.client, serverID, opts).Extract()
}

func (s *computeService) DetachVolume(ctx context.Context, serverID, attachmentID string) error {
	return volumeattach.Delete(ctx, s.client, serverID, attachmentID).ExtractErr()
}

func (s *computeService) ListVolumeAttachments(ctx context.Context, serverID string) ([]volumeattach.VolumeAttachment, error) {
	pages, err := volumeattach.List(s.client, serverID).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	return volumeattach.ExtractVolumeAttachments(pages)
}

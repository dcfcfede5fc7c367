package openstack

import (
	"context"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
)

// blockStorageService implements BlockStorageAPI on top of a Cinder v3 service client.
type blockStorageService struct {
	client *gophercloud.ServiceClient
}

// NewBlockStorageAPI wraps a block storage v3 service client.
func NewBlockStorageAPI(client *gophercloud.ServiceClient) BlockStorageAPI {
	return &blockStorageService{client: client}
}

func (s *blockStorageService) GetVolume(ctx context.Context, volumeID string) (*volumes.Volume, error) {
	return volumes.Get(ctx, s.client, volumeID).Extract()
}

func (s *blockStorageService) CreateVolume(ctx context.Context, opts volumes.CreateOpts) (*volumes.Volume, error) {
	return volumes.Create(ctx, s.client, opts, nil).Extract()
}

func (s *blockStorageService) DeleteVolume(ctx context.Context, volumeID string) error {
	return volumes.Delete(ctx, s.client, volumeID, volumes.DeleteOpts{}).ExtractErr()
}

func (s *blockStorageService) GetSnapshot(ctx context.Context, snapshotID string) (*snapshots.Snapshot, error) {
	return snapshots.Get(ctx, s.client, snapshotID).Extract()
}

// CreateSnapshot expects opts.Force to be set by the caller so in-use volumes can be snapshotted.
func (s *blockStorageService) CreateSnapshot(ctx context.Context, opts snapshots.CreateOpts) (*snapshots.Snapshot, error) {
	return snapshots.Create(ctx, s.client, opts).Extract()
}

func (s *blockStorageService) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	return snapshots.Delete(ctx, s.client, snapshotID).ExtractErr()
}

// imageService implements ImageAPI on top of a Glance v2 service client.
type imageService struct {
	client *gophercloud.ServiceClient
}

// NewImageAPI wraps an image v2 service client.
func NewImageAPI(client *gophercloud.ServiceClient) ImageAPI {
	return &imageService{client: client}
}

func (s *imageService) GetImage(ctx context.Context, imageID string) (*images.Image, error) {
	return images.Get(ctx, s.client, imageID).Extract()
}

// networkService implements NetworkAPI on top of a Neutron v2 service client.
type networkService struct {
	client *gophercloud.ServiceClient
}

// NewNetworkAPI wraps a networking v2 service client.
func NewNetworkAPI(client *gophercloud.ServiceClient) NetworkAPI {
	return &networkService{client: client}
}

func (s *networkService) ListNetworks(ctx context.Context) ([]networks.Network, error) {
	pages, err := networks.List(s.client, networks.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, err
	}
	return networks.ExtractNetworks(pages)
}

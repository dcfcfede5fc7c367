package openstack

import (
	"context"

	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/volumeattach"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
)

// The API interfaces below are the provider surface the managers depend on. Lookups of an
// absent resource return a gophercloud 404 error; callers classify it with isNotFound.

// ComputeAPI covers servers, flavors and volume attachments (Nova).
type ComputeAPI interface {
	GetServer(ctx context.Context, serverID string) (*servers.Server, error)
	CreateServer(ctx context.Context, opts servers.CreateOpts) (*servers.Server, error)
	DeleteServer(ctx context.Context, serverID string) error
	RebootServer(ctx context.Context, serverID string) error
	UpdateServerMetadata(ctx context.Context, serverID string, metadata map[string]string) error
	ListFlavors(ctx context.Context) ([]flavors.Flavor, error)
	AttachVolume(ctx context.Context, serverID, volumeID string) (*volumeattach.VolumeAttachment, error)
	DetachVolume(ctx context.Context, serverID, attachmentID string) error
	ListVolumeAttachments(ctx context.Context, serverID string) ([]volumeattach.VolumeAttachment, error)
}

// BlockStorageAPI covers volumes and volume snapshots (Cinder).
type BlockStorageAPI interface {
	GetVolume(ctx context.Context, volumeID string) (*volumes.Volume, error)
	CreateVolume(ctx context.Context, opts volumes.CreateOpts) (*volumes.Volume, error)
	DeleteVolume(ctx context.Context, volumeID string) error
	GetSnapshot(ctx context.Context, snapshotID string) (*snapshots.Snapshot, error)
	CreateSnapshot(ctx context.Context, opts snapshots.CreateOpts) (*snapshots.Snapshot, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

// ImageAPI covers machine images (Glance).
type ImageAPI interface {
	GetImage(ctx context.Context, imageID string) (*images.Image, error)
}

// NetworkAPI covers the provider network list (Neutron).
type NetworkAPI interface {
	ListNetworks(ctx context.Context) ([]networks.Network, error)
}

// Package openstacktest provides an in-memory provider for exercising the resource managers
// without a real cloud.
package openstacktest

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/volumeattach"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
)

// Provider is a single-threaded fake of the compute, block storage, image and network APIs.
//
// Mutations take effect immediately: created resources are reported in their ready state,
// deleted resources answer 404.
type Provider struct {
	Servers     map[string]*servers.Server
	Volumes     map[string]*volumes.Volume
	Snapshots   map[string]*snapshots.Snapshot
	Images      map[string]*images.Image
	Flavors     []flavors.Flavor
	Networks    []networks.Network
	Attachments map[string][]volumeattach.VolumeAttachment
	Metadata    map[string]map[string]string

	// BootStatus is the status of newly created servers. Defaults to ACTIVE.
	BootStatus string

	// Errors makes the named call fail, e.g. Errors["CreateVolume"].
	Errors map[string]error

	Calls            []string
	CreatedServers   []servers.CreateOpts
	CreatedVolumes   []volumes.CreateOpts
	CreatedSnapshots []snapshots.CreateOpts
	MetadataUpdates  []map[string]string

	nextID int
}

// NewProvider returns an empty provider with one image, one flavor and the two default networks.
func NewProvider() *Provider {
	return &Provider{
		Servers:     map[string]*servers.Server{},
		Volumes:     map[string]*volumes.Volume{},
		Snapshots:   map[string]*snapshots.Snapshot{},
		Images:      map[string]*images.Image{"image-id": {ID: "image-id", Name: "bosh-stemcell"}},
		Flavors:     []flavors.Flavor{{ID: "flavor-id", Name: "m1.small"}},
		Networks: []networks.Network{
			{ID: "00000000-0000-0000-0000-000000000000", Name: "public"},
			{ID: "11111111-1111-1111-1111-111111111111", Name: "private"},
		},
		Attachments: map[string][]volumeattach.VolumeAttachment{},
		Metadata:    map[string]map[string]string{},
		Errors:      map[string]error{},
	}
}

// NotFound is the error returned for unknown ids.
func NotFound() error {
	return gophercloud.ErrUnexpectedResponseCode{Actual: http.StatusNotFound}
}

// CallCount returns how many times the named call was made.
func (p *Provider) CallCount(name string) int {
	n := 0
	for _, c := range p.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (p *Provider) call(name string) error {
	p.Calls = append(p.Calls, name)
	return p.Errors[name]
}

func (p *Provider) id(prefix string) string {
	p.nextID++
	return fmt.Sprintf("%s-%d", prefix, p.nextID)
}

func (p *Provider) GetServer(_ context.Context, serverID string) (*servers.Server, error) {
	if err := p.call("GetServer"); err != nil {
		return nil, err
	}
	s, ok := p.Servers[serverID]
	if !ok {
		return nil, NotFound()
	}
	out := *s
	return &out, nil
}

func (p *Provider) CreateServer(_ context.Context, opts servers.CreateOpts) (*servers.Server, error) {
	if err := p.call("CreateServer"); err != nil {
		return nil, err
	}
	p.CreatedServers = append(p.CreatedServers, opts)

	status := p.BootStatus
	if status == "" {
		status = "ACTIVE"
	}
	s := &servers.Server{ID: p.id("server"), Name: opts.Name, Status: status}
	p.Servers[s.ID] = s
	out := *s
	return &out, nil
}

func (p *Provider) DeleteServer(_ context.Context, serverID string) error {
	if err := p.call("DeleteServer"); err != nil {
		return err
	}
	if _, ok := p.Servers[serverID]; !ok {
		return NotFound()
	}
	delete(p.Servers, serverID)
	return nil
}

func (p *Provider) RebootServer(_ context.Context, serverID string) error {
	if err := p.call("RebootServer"); err != nil {
		return err
	}
	s, ok := p.Servers[serverID]
	if !ok {
		return NotFound()
	}
	s.Status = "ACTIVE"
	return nil
}

func (p *Provider) UpdateServerMetadata(_ context.Context, serverID string, metadata map[string]string) error {
	if err := p.call("UpdateServerMetadata"); err != nil {
		return err
	}
	p.MetadataUpdates = append(p.MetadataUpdates, metadata)
	if p.Metadata[serverID] == nil {
		p.Metadata[serverID] = map[string]string{}
	}
	for k, v := range metadata {
		p.Metadata[serverID][k] = v
	}
	return nil
}

func (p *Provider) ListFlavors(_ context.Context) ([]flavors.Flavor, error) {
	if err := p.call("ListFlavors"); err != nil {
		return nil, err
	}
	return slices.Clone(p.Flavors), nil
}

func (p *Provider) AttachVolume(_ context.Context, serverID, volumeID string) (*volumeattach.VolumeAttachment, error) {
	if err := p.call("AttachVolume"); err != nil {
		return nil, err
	}
	if _, ok := p.Servers[serverID]; !ok {
		return nil, NotFound()
	}
	v, ok := p.Volumes[volumeID]
	if !ok {
		return nil, NotFound()
	}

	device := fmt.Sprintf("/dev/xvd%c", 'b'+len(p.Attachments[serverID]))
	a := volumeattach.VolumeAttachment{
		ID:       volumeID,
		Device:   device,
		ServerID: serverID,
		VolumeID: volumeID,
	}
	p.Attachments[serverID] = append(p.Attachments[serverID], a)

	v.Status = "in-use"
	v.Attachments = append(v.Attachments, volumes.Attachment{
		AttachmentID: a.ID,
		Device:       device,
		ServerID:     serverID,
		VolumeID:     volumeID,
	})
	return &a, nil
}

func (p *Provider) DetachVolume(_ context.Context, serverID, attachmentID string) error {
	if err := p.call("DetachVolume"); err != nil {
		return err
	}
	attachments := p.Attachments[serverID]
	idx := slices.IndexFunc(attachments, func(a volumeattach.VolumeAttachment) bool { return a.ID == attachmentID })
	if idx < 0 {
		return NotFound()
	}
	volumeID := attachments[idx].VolumeID
	p.Attachments[serverID] = slices.Delete(attachments, idx, idx+1)

	if v, ok := p.Volumes[volumeID]; ok {
		v.Status = "available"
		v.Attachments = nil
	}
	return nil
}

func (p *Provider) ListVolumeAttachments(_ context.Context, serverID string) ([]volumeattach.VolumeAttachment, error) {
	if err := p.call("ListVolumeAttachments"); err != nil {
		return nil, err
	}
	return slices.Clone(p.Attachments[serverID]), nil
}

func (p *Provider) GetVolume(_ context.Context, volumeID string) (*volumes.Volume, error) {
	if err := p.call("GetVolume"); err != nil {
		return nil, err
	}
	v, ok := p.Volumes[volumeID]
	if !ok {
		return nil, NotFound()
	}
	out := *v
	return &out, nil
}

func (p *Provider) CreateVolume(_ context.Context, opts volumes.CreateOpts) (*volumes.Volume, error) {
	if err := p.call("CreateVolume"); err != nil {
		return nil, err
	}
	p.CreatedVolumes = append(p.CreatedVolumes, opts)

	v := &volumes.Volume{ID: p.id("volume"), Name: opts.Name, Size: opts.Size, Status: "available"}
	p.Volumes[v.ID] = v
	out := *v
	return &out, nil
}

func (p *Provider) DeleteVolume(_ context.Context, volumeID string) error {
	if err := p.call("DeleteVolume"); err != nil {
		return err
	}
	if _, ok := p.Volumes[volumeID]; !ok {
		return NotFound()
	}
	delete(p.Volumes, volumeID)
	return nil
}

func (p *Provider) GetSnapshot(_ context.Context, snapshotID string) (*snapshots.Snapshot, error) {
	if err := p.call("GetSnapshot"); err != nil {
		return nil, err
	}
	s, ok := p.Snapshots[snapshotID]
	if !ok {
		return nil, NotFound()
	}
	out := *s
	return &out, nil
}

func (p *Provider) CreateSnapshot(_ context.Context, opts snapshots.CreateOpts) (*snapshots.Snapshot, error) {
	if err := p.call("CreateSnapshot"); err != nil {
		return nil, err
	}
	p.CreatedSnapshots = append(p.CreatedSnapshots, opts)

	s := &snapshots.Snapshot{
		ID:          p.id("snapshot"),
		Name:        opts.Name,
		Description: opts.Description,
		VolumeID:    opts.VolumeID,
		Status:      "available",
	}
	p.Snapshots[s.ID] = s
	out := *s
	return &out, nil
}

func (p *Provider) DeleteSnapshot(_ context.Context, snapshotID string) error {
	if err := p.call("DeleteSnapshot"); err != nil {
		return err
	}
	if _, ok := p.Snapshots[snapshotID]; !ok {
		return NotFound()
	}
	delete(p.Snapshots, snapshotID)
	return nil
}

func (p *Provider) GetImage(_ context.Context, imageID string) (*images.Image, error) {
	if err := p.call("GetImage"); err != nil {
		return nil, err
	}
	img, ok := p.Images[imageID]
	if !ok {
		return nil, NotFound()
	}
	out := *img
	return &out, nil
}

func (p *Provider) ListNetworks(_ context.Context) ([]networks.Network, error) {
	if err := p.call("ListNetworks"); err != nil {
		return nil, err
	}
	return slices.Clone(p.Networks), nil
}

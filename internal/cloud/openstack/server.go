package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/volumeattach"
)

var goneServerStates = []string{"terminated", "deleted"}

// ResourcePool is the subset of cloud properties used to boot a server.
type ResourcePool struct {
	InstanceType string `json:"instance_type"`
	PublicKey    any    `json:"public_key"`
}

// ServerManager handles the server lifecycle and its volume attachments.
type ServerManager struct {
	compute   ComputeAPI
	volumes   BlockStorageAPI
	caller    *Caller
	waiter    *WaitManager
	stemcells *StemcellManager
	networks  *NetworkManager
	logger    *slog.Logger
}

// Get returns an existing server or a not-found CloudError.
func (m *ServerManager) Get(ctx context.Context, serverID string) (*servers.Server, error) {
	server, err := m.lookup(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, cloud.NotFoundError("Server `%s' not found", serverID)
	}
	return server, nil
}

// lookup returns nil without error when the server does not exist.
func (m *ServerManager) lookup(ctx context.Context, serverID string) (*servers.Server, error) {
	var server *servers.Server
	err := m.caller.Do(ctx, "GetServer", func(ctx context.Context) error {
		var err error
		server, err = m.compute.GetServer(ctx, serverID)
		return err
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Create boots a new server and waits until it is active.
//
// A failure while waiting is reported as VMCreationFailedError so the orchestrator can retry
// the whole creation from scratch.
func (m *ServerManager) Create(
	ctx context.Context,
	stemcellID string,
	resourcePool map[string]any,
	network *Network,
	registryEndpoint string,
) (*servers.Server, error) {
	opts, err := m.createOpts(ctx, "server-"+uuid.New().String(), stemcellID, resourcePool, network, registryEndpoint)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Using boot params",
		"name", opts.Name,
		"image_ref", opts.ImageRef,
		"flavor_ref", opts.FlavorRef)

	var server *servers.Server
	err = m.caller.Do(ctx, "CreateServer", func(ctx context.Context) error {
		var err error
		server, err = m.compute.CreateServer(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Creating new server", "server_id", server.ID)

	if err := m.waiter.WaitFor(ctx, serverResource{api: m.compute, id: server.ID}, WaitSpec{
		TargetStates: []string{"active"},
	}); err != nil {
		if cloud.IsCloudError(err) {
			m.logger.Error("Server did not become active", "server_id", server.ID, "error", err)
			return nil, &cloud.VMCreationFailedError{OkToRetry: true, Cause: err}
		}
		return nil, err
	}

	return m.Get(ctx, server.ID)
}

// Terminate deletes a server and waits until it is gone.
func (m *ServerManager) Terminate(ctx context.Context, serverID string) error {
	server, err := m.Get(ctx, serverID)
	if err != nil {
		return err
	}

	err = m.caller.Do(ctx, "DeleteServer", func(ctx context.Context) error {
		return m.compute.DeleteServer(ctx, server.ID)
	})
	if err != nil {
		return err
	}

	return m.waiter.WaitFor(ctx, serverResource{api: m.compute, id: server.ID}, WaitSpec{
		TargetStates:  goneServerStates,
		AllowNotFound: true,
	})
}

// Reboot soft-reboots a server and waits until it is active again.
func (m *ServerManager) Reboot(ctx context.Context, serverID string) error {
	server, err := m.Get(ctx, serverID)
	if err != nil {
		return err
	}

	err = m.caller.Do(ctx, "RebootServer", func(ctx context.Context) error {
		return m.compute.RebootServer(ctx, server.ID)
	})
	if err != nil {
		return err
	}

	return m.waiter.WaitFor(ctx, serverResource{api: m.compute, id: server.ID}, WaitSpec{
		TargetStates: []string{"active"},
	})
}

// Exists reports whether the server is present and not terminated.
func (m *ServerManager) Exists(ctx context.Context, serverID string) (bool, error) {
	server, err := m.lookup(ctx, serverID)
	if err != nil {
		return false, err
	}
	if server == nil {
		return false, nil
	}
	return !slices.Contains(goneServerStates, strings.ToLower(server.Status)), nil
}

// SetMetadata tags the server with every metadata pair, one provider call per pair.
func (m *ServerManager) SetMetadata(ctx context.Context, serverID string, metadata map[string]any) error {
	server, err := m.Get(ctx, serverID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := m.Tag(ctx, server.ID, k, metadata[k]); err != nil {
			return err
		}
	}
	return nil
}

// Tag writes a single metadata pair. Over-long keys and values are truncated; an empty key
// or nil value is skipped without calling the provider.
func (m *ServerManager) Tag(ctx context.Context, serverID, key string, value any) error {
	k, v, ok := trimTag(key, value)
	if !ok {
		return nil
	}
	return m.caller.Do(ctx, "UpdateServerMetadata", func(ctx context.Context) error {
		return m.compute.UpdateServerMetadata(ctx, serverID, map[string]string{k: v})
	})
}

// AttachVolume attaches a volume and waits until it reports in-use. It returns the
// attachment, whose Device is the guest device path.
func (m *ServerManager) AttachVolume(ctx context.Context, server *servers.Server, volume *volumes.Volume) (*volumeattach.VolumeAttachment, error) {
	var attachment *volumeattach.VolumeAttachment
	err := m.caller.Do(ctx, "AttachVolume", func(ctx context.Context) error {
		var err error
		attachment, err = m.compute.AttachVolume(ctx, server.ID, volume.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := m.waiter.WaitFor(ctx, volumeResource{api: m.volumes, id: volume.ID}, WaitSpec{
		TargetStates: []string{"in-use"},
	}); err != nil {
		return nil, err
	}
	return attachment, nil
}

// DetachVolume detaches a volume and waits until it is available again.
func (m *ServerManager) DetachVolume(ctx context.Context, server *servers.Server, volume *volumes.Volume) error {
	attachments, err := m.attachments(ctx, server.ID)
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(attachments, func(a volumeattach.VolumeAttachment) bool {
		return a.VolumeID == volume.ID
	})
	if idx < 0 {
		return cloud.NotFoundError("Volume `%s' is not attached to server `%s'", volume.ID, server.ID)
	}
	attachment := attachments[idx]

	err = m.caller.Do(ctx, "DetachVolume", func(ctx context.Context) error {
		return m.compute.DetachVolume(ctx, server.ID, attachment.ID)
	})
	if err != nil {
		return err
	}

	return m.waiter.WaitFor(ctx, volumeResource{api: m.volumes, id: volume.ID}, WaitSpec{
		TargetStates: []string{"available"},
	})
}

// AttachedVolumes lists the ids of the volumes attached to a server.
func (m *ServerManager) AttachedVolumes(ctx context.Context, serverID string) ([]string, error) {
	server, err := m.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}

	attachments, err := m.attachments(ctx, server.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(attachments))
	for _, a := range attachments {
		ids = append(ids, a.VolumeID)
	}
	return ids, nil
}

func (m *ServerManager) attachments(ctx context.Context, serverID string) ([]volumeattach.VolumeAttachment, error) {
	var attachments []volumeattach.VolumeAttachment
	err := m.caller.Do(ctx, "ListVolumeAttachments", func(ctx context.Context) error {
		var err error
		attachments, err = m.compute.ListVolumeAttachments(ctx, serverID)
		return err
	})
	return attachments, err
}

func (m *ServerManager) createOpts(
	ctx context.Context,
	name, stemcellID string,
	resourcePool map[string]any,
	network *Network,
	registryEndpoint string,
) (servers.CreateOpts, error) {
	pool, err := cloud.Decode[ResourcePool](resourcePool)
	if err != nil {
		return servers.CreateOpts{}, cloud.ConfigurationError("Invalid resource pool: %v", err)
	}

	publicKey, err := publicKey(pool.PublicKey)
	if err != nil {
		return servers.CreateOpts{}, err
	}

	dns, err := network.DNS()
	if err != nil {
		return servers.CreateOpts{}, err
	}

	image, err := m.stemcells.Get(ctx, stemcellID)
	if err != nil {
		return servers.CreateOpts{}, err
	}
	m.logger.Debug("Using image", "image_name", image.Name, "image_id", image.ID)

	flavor, err := m.flavor(ctx, pool.InstanceType)
	if err != nil {
		return servers.CreateOpts{}, err
	}
	m.logger.Debug("Using flavor", "flavor_name", flavor.Name, "flavor_id", flavor.ID)

	userData := UserData{
		Registry: UserDataRegistry{Endpoint: registryEndpoint},
		Server:   UserDataServer{Name: name},
	}
	if len(dns) > 0 {
		userData.DNS = &UserDataDNS{Nameserver: dns}
	}
	if publicKey != "" {
		userData.OpenSSH = &UserDataOpenSSH{PublicKey: publicKey}
	}

	personality, err := userData.Personality()
	if err != nil {
		return servers.CreateOpts{}, fmt.Errorf("encoding user data: %w", err)
	}

	opts := servers.CreateOpts{
		Name:        name,
		ImageRef:    image.ID,
		FlavorRef:   flavor.ID,
		Personality: personality,
	}

	networkIDs, err := m.networks.NetworkIDs(ctx, network)
	if err != nil {
		return servers.CreateOpts{}, err
	}
	if len(networkIDs) > 0 {
		attach := make([]servers.Network, 0, len(networkIDs))
		for _, id := range networkIDs {
			attach = append(attach, servers.Network{UUID: id})
		}
		opts.Networks = attach
	}

	return opts, nil
}

func (m *ServerManager) flavor(ctx context.Context, name string) (*flavors.Flavor, error) {
	var all []flavors.Flavor
	err := m.caller.Do(ctx, "ListFlavors", func(ctx context.Context) error {
		var err error
		all, err = m.compute.ListFlavors(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	idx := slices.IndexFunc(all, func(f flavors.Flavor) bool { return f.Name == name })
	if idx < 0 {
		return nil, cloud.NotFoundError("Flavor `%s' not found", name)
	}
	return &all[idx], nil
}

func publicKey(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	key, ok := value.(string)
	if !ok {
		return "", cloud.ConfigurationError("Invalid public key: string expected, %s provided", cloud.TypeName(value))
	}
	return key, nil
}

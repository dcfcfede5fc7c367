package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud/openstack"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/config"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/registry"
)

// Registry stores the agent settings of every server, keyed by server name.
type Registry interface {
	ReadSettings(ctx context.Context, serverName string) (registry.Settings, error)
	UpdateSettings(ctx context.Context, serverName string, settings registry.Settings) error
	DeleteSettings(ctx context.Context, serverName string) error
}

// Cloud runs the orchestrator-facing operations as ordered recipes over the resource
// managers and the registry.
//
// Within one operation the provider is always mutated first and the settings record is only
// written after the provider confirmed the change. Settings updates are read-modify-write
// against the current registry record, without locking: a single writer per server is assumed.
type Cloud struct {
	options  *config.Options
	managers *openstack.Managers
	registry Registry
	logger   *slog.Logger
}

// New validates the options and assembles a Cloud from already built collaborators.
func New(opts *config.Options, managers *openstack.Managers, reg Registry, logger *slog.Logger) (*Cloud, error) {
	if opts == nil {
		return nil, cloud.ConfigurationError("Missing configuration")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cloud{
		options:  opts,
		managers: managers,
		registry: reg,
		logger:   logger,
	}, nil
}

// Connect validates the options, authenticates against the provider and returns a Cloud backed
// by the real provider and registry clients. No connection is attempted with invalid options.
func Connect(ctx context.Context, opts *config.Options, logger *slog.Logger) (*Cloud, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Authenticate and build the service clients
	client := openstack.Client{
		ProfileName: opts.Rackspace.Cloud,
		Credentials: opts.Credentials(),
		Caller:      openstack.NewCaller(opts.RetryConfig(), logger.With("component", "caller")),
		Logger:      logger,
	}
	if err := client.NewClient(ctx); err != nil {
		return nil, &cloud.CloudError{Kind: cloud.ErrConfiguration, Message: err.Error(), Cause: err}
	}
	logger.Debug("Provider connection established", "provider", client.GetCloudProviderName())

	// 2. Wire the long-lived managers around one caller and waiter
	managers := openstack.NewManagers(client.APIs(), openstack.ManagerOptions{
		Retry:            opts.RetryConfig(),
		Wait:             opts.WaitConfig(),
		Checkpoint:       openstack.ContextCheckpoint,
		MinVolumeSizeGiB: opts.Volume.MinSizeGiB,
		Infrastructure:   opts.Stemcell.Infrastructure,
		Logger:           logger,
	})

	// 3. Registry client
	reg := registry.NewClient(opts.Registry.Endpoint, opts.Registry.User, opts.Registry.Password)

	return New(opts, managers, reg, logger)
}

// CreateStemcell returns the id of the provider image described by the stemcell properties.
func (c *Cloud) CreateStemcell(ctx context.Context, imagePath string, properties map[string]any) (string, error) {
	c.logger.Info("Creating new stemcell", "image_path", imagePath)

	image, err := c.managers.Stemcells.Create(ctx, properties)
	if err != nil {
		return "", err
	}
	return image.ID, nil
}

// DeleteStemcell deletes a stemcell.
func (c *Cloud) DeleteStemcell(ctx context.Context, stemcellID string) error {
	c.logger.Info("Deleting stemcell", "stemcell_id", stemcellID)
	return c.managers.Stemcells.Delete(ctx, stemcellID)
}

// CreateVM boots a server for an agent and writes its initial settings record.
//
// Disk locality is accepted for compatibility and ignored.
func (c *Cloud) CreateVM(
	ctx context.Context,
	agentID, stemcellID string,
	resourcePool, networkSpec map[string]any,
	diskLocality []string,
	env map[string]any,
) (string, error) {
	logger := c.logger.With("agent_id", agentID)

	// 1. Validate the network spec before any provider call
	network, err := c.managers.Networks.Parse(networkSpec)
	if err != nil {
		return "", err
	}
	if len(diskLocality) > 0 {
		logger.Debug("Ignoring disk locality", "disk_locality", diskLocality)
	}

	// 2. Boot the server
	logger.Info("Creating new server")
	server, err := c.managers.Servers.Create(ctx, stemcellID, resourcePool, network, c.options.Registry.Endpoint)
	if err != nil {
		return "", err
	}

	// 3. Network configuration is fixed at boot on this provider
	logger.Info("Configuring network for server", "server_id", server.ID)
	if err := c.managers.Networks.Configure(ctx, server, network); err != nil {
		return "", err
	}

	// 4. Initial settings record
	logger.Info("Updating agent settings for server", "server_id", server.ID, "server_name", server.Name)
	settings := registry.NewSettings(server.Name, agentID, networkSpec, env, c.options.Agent)
	if err := c.registry.UpdateSettings(ctx, server.Name, settings); err != nil {
		return "", fmt.Errorf("writing settings for server %s: %w", server.ID, err)
	}

	return server.ID, nil
}

// DeleteVM terminates a server, then deletes its settings record.
func (c *Cloud) DeleteVM(ctx context.Context, serverID string) error {
	server, err := c.managers.Servers.Get(ctx, serverID)
	if err != nil {
		return err
	}

	c.logger.Info("Deleting server", "server_id", server.ID)
	if err := c.managers.Servers.Terminate(ctx, server.ID); err != nil {
		return err
	}

	c.logger.Info("Deleting agent settings for server", "server_id", server.ID, "server_name", server.Name)
	return c.registry.DeleteSettings(ctx, server.Name)
}

// RebootVM soft-reboots a server.
func (c *Cloud) RebootVM(ctx context.Context, serverID string) error {
	c.logger.Info("Rebooting server", "server_id", serverID)
	return c.managers.Servers.Reboot(ctx, serverID)
}

// HasVM reports whether a server exists.
func (c *Cloud) HasVM(ctx context.Context, serverID string) (bool, error) {
	c.logger.Info("Checking if server exists", "server_id", serverID)
	return c.managers.Servers.Exists(ctx, serverID)
}

// SetVMMetadata tags a server.
func (c *Cloud) SetVMMetadata(ctx context.Context, serverID string, metadata map[string]any) error {
	c.logger.Info("Setting metadata for server", "server_id", serverID)
	return c.managers.Servers.SetMetadata(ctx, serverID, metadata)
}

// ConfigureNetworks re-applies the network configuration and stores the new spec.
func (c *Cloud) ConfigureNetworks(ctx context.Context, serverID string, networkSpec map[string]any) error {
	network, err := c.managers.Networks.Parse(networkSpec)
	if err != nil {
		return err
	}

	server, err := c.managers.Servers.Get(ctx, serverID)
	if err != nil {
		return err
	}

	c.logger.Info("Configuring network for server", "server_id", server.ID)
	if err := c.managers.Networks.Configure(ctx, server, network); err != nil {
		return err
	}

	c.logger.Info("Updating agent settings for server", "server_id", server.ID)
	return c.updateAgentSettings(ctx, server.Name, func(s registry.Settings) {
		s.SetNetworks(networkSpec)
	})
}

// CreateDisk creates a volume of sizeMiB. The server hint is not used by this provider.
func (c *Cloud) CreateDisk(ctx context.Context, sizeMiB int, serverID string) (string, error) {
	c.logger.Info("Creating new volume", "size_mib", sizeMiB, "server_id", serverID)

	volume, err := c.managers.Volumes.Create(ctx, sizeMiB)
	if err != nil {
		return "", err
	}
	return volume.ID, nil
}

// DeleteDisk deletes a volume.
func (c *Cloud) DeleteDisk(ctx context.Context, volumeID string) error {
	c.logger.Info("Deleting volume", "volume_id", volumeID)
	return c.managers.Volumes.Delete(ctx, volumeID)
}

// AttachDisk attaches a volume and records its device in the settings record.
func (c *Cloud) AttachDisk(ctx context.Context, serverID, volumeID string) error {
	server, err := c.managers.Servers.Get(ctx, serverID)
	if err != nil {
		return err
	}
	volume, err := c.managers.Volumes.Get(ctx, volumeID)
	if err != nil {
		return err
	}

	c.logger.Info("Attaching volume to server", "volume_id", volume.ID, "server_id", server.ID)
	attachment, err := c.managers.Servers.AttachVolume(ctx, server, volume)
	if err != nil {
		return err
	}

	c.logger.Info("Updating agent settings for server", "server_id", server.ID, "device", attachment.Device)
	return c.updateAgentSettings(ctx, server.Name, func(s registry.Settings) {
		s.SetPersistentDisk(volume.ID, attachment.Device)
	})
}

// DetachDisk detaches a volume and removes it from the settings record.
func (c *Cloud) DetachDisk(ctx context.Context, serverID, volumeID string) error {
	server, err := c.managers.Servers.Get(ctx, serverID)
	if err != nil {
		return err
	}
	volume, err := c.managers.Volumes.Get(ctx, volumeID)
	if err != nil {
		return err
	}

	c.logger.Info("Detaching volume from server", "volume_id", volume.ID, "server_id", server.ID)
	if err := c.managers.Servers.DetachVolume(ctx, server, volume); err != nil {
		return err
	}

	c.logger.Info("Updating agent settings for server", "server_id", server.ID)
	return c.updateAgentSettings(ctx, server.Name, func(s registry.Settings) {
		s.RemovePersistentDisk(volume.ID)
	})
}

// GetDisks lists the volumes attached to a server.
func (c *Cloud) GetDisks(ctx context.Context, serverID string) ([]string, error) {
	return c.managers.Servers.AttachedVolumes(ctx, serverID)
}

// SnapshotDisk snapshots a volume.
func (c *Cloud) SnapshotDisk(ctx context.Context, volumeID string, metadata map[string]any) (string, error) {
	c.logger.Info("Creating new snapshot for volume", "volume_id", volumeID)

	snapshot, err := c.managers.Snapshots.Create(ctx, volumeID, metadata)
	if err != nil {
		return "", err
	}
	return snapshot.ID, nil
}

// DeleteSnapshot deletes a volume snapshot.
func (c *Cloud) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	c.logger.Info("Deleting volume snapshot", "snapshot_id", snapshotID)
	return c.managers.Snapshots.Delete(ctx, snapshotID)
}

// updateAgentSettings reads the current record, applies mutate and writes it back.
func (c *Cloud) updateAgentSettings(ctx context.Context, serverName string, mutate func(registry.Settings)) error {
	settings, err := c.registry.ReadSettings(ctx, serverName)
	if err != nil {
		return fmt.Errorf("reading settings for %s: %w", serverName, err)
	}
	if settings == nil {
		settings = registry.Settings{}
	}

	mutate(settings)

	if err := c.registry.UpdateSettings(ctx, serverName, settings); err != nil {
		return fmt.Errorf("writing settings for %s: %w", serverName, err)
	}
	return nil
}

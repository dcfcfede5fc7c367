package openstack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"
)

// Credentials identify the account the CPI acts on.
type Credentials struct {
	AuthURL      string
	Username     string
	APIKey       string
	Region       string
	TenantName   string
	DomainName   string
	EndpointType string
}

// Client manages the connection and service clients for provider interactions.
type Client struct {
	// ProfileName optionally selects an entry in clouds.yaml instead of Credentials.
	ProfileName string
	Credentials Credentials
	Caller      *Caller
	Logger      *slog.Logger

	ComputeClient      *gophercloud.ServiceClient
	BlockStorageClient *gophercloud.ServiceClient
	ImageClient        *gophercloud.ServiceClient
	NetworkClient      *gophercloud.ServiceClient
}

// GetCloudProviderName returns the identifier for this provider.
func (c *Client) GetCloudProviderName() string {
	return "openstack"
}

func (c *Client) clientOpts() *clientconfig.ClientOpts {
	if c.ProfileName != "" {
		return &clientconfig.ClientOpts{Cloud: c.ProfileName}
	}
	return &clientconfig.ClientOpts{
		RegionName: c.Credentials.Region,
		AuthInfo: &clientconfig.AuthInfo{
			AuthURL:     c.Credentials.AuthURL,
			Username:    c.Credentials.Username,
			Password:    c.Credentials.APIKey,
			ProjectName: c.Credentials.TenantName,
			DomainName:  c.Credentials.DomainName,
		},
	}
}

// NewClient authenticates and initializes the compute, block storage, image and network
// service clients.
func (c *Client) NewClient(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Caller == nil {
		c.Caller = NewCaller(cloud.DefaultRetryConfig(), c.Logger)
	}

	c.Logger.Debug("Initializing provider client", "profile", c.ProfileName, "auth_url", c.Credentials.AuthURL)

	var provider *gophercloud.ProviderClient
	err := c.Caller.Do(ctx, "Authenticate", func(ctx context.Context) error {
		p, err := clientconfig.AuthenticatedClient(ctx, c.clientOpts())
		if err != nil {
			return err
		}
		provider = p
		return nil
	})
	if err != nil {
		c.Logger.Error("Provider authentication failed", "error", err)
		return fmt.Errorf("Unable to connect to the provider API: %w", err)
	}

	region := c.Credentials.Region
	endpointType := c.Credentials.EndpointType
	if c.ProfileName != "" {
		cloudConfig, err := clientconfig.GetCloudFromYAML(c.clientOpts())
		if err != nil {
			return fmt.Errorf("failed to parse cloud config: %w", err)
		}
		region = cloudConfig.RegionName
		endpointType = cloudConfig.EndpointType
	}

	var availability gophercloud.Availability
	switch endpointType {
	case "internal":
		availability = gophercloud.AvailabilityInternal
	case "admin":
		availability = gophercloud.AvailabilityAdmin
	default:
		availability = gophercloud.AvailabilityPublic
	}

	endpointOpts := gophercloud.EndpointOpts{
		Availability: availability,
		Region:       region,
	}

	compute, err := openstack.NewComputeV2(provider, endpointOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize Compute v2 client: %w", err)
	}

	blockStorage, err := openstack.NewBlockStorageV3(provider, endpointOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize Block Storage v3 client: %w", err)
	}

	image, err := openstack.NewImageV2(provider, endpointOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize Image v2 client: %w", err)
	}

	network, err := openstack.NewNetworkV2(provider, endpointOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize Network v2 client: %w", err)
	}

	c.ComputeClient = compute
	c.BlockStorageClient = blockStorage
	c.ImageClient = image
	c.NetworkClient = network

	return nil
}

// APIs returns the provider surface backed by the initialized service clients.
func (c *Client) APIs() APIs {
	return APIs{
		Compute:      NewComputeAPI(c.ComputeClient),
		BlockStorage: NewBlockStorageAPI(c.BlockStorageClient),
		Image:        NewImageAPI(c.ImageClient),
		Network:      NewNetworkAPI(c.NetworkClient),
	}
}

// APIs groups the provider collaborators.
type APIs struct {
	Compute      ComputeAPI
	BlockStorage BlockStorageAPI
	Image        ImageAPI
	Network      NetworkAPI
}

// ManagerOptions tunes the managers built by NewManagers.
type ManagerOptions struct {
	Retry            cloud.RetryConfig
	Wait             cloud.WaitConfig
	Checkpoint       CheckpointFunc
	MinVolumeSizeGiB int
	Infrastructure   string
	Logger           *slog.Logger

	// Sleep replaces the backoff sleep of both the rate-limit retries and the waits.
	Sleep SleepFunc
}

// Managers are the long-lived resource managers shared by every operation.
type Managers struct {
	Caller    *Caller
	Waiter    *WaitManager
	Servers   *ServerManager
	Volumes   *VolumeManager
	Snapshots *VolumeSnapshotManager
	Stemcells *StemcellManager
	Networks  *NetworkManager
}

// NewManagers wires the managers around a single Caller and WaitManager.
func NewManagers(apis APIs, opts ManagerOptions) *Managers {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinVolumeSizeGiB < 0 {
		opts.MinVolumeSizeGiB = 0
	}
	if opts.Infrastructure == "" {
		opts.Infrastructure = DefaultInfrastructure
	}

	caller := NewCaller(opts.Retry, logger.With("component", "caller"))
	waiter := NewWaitManager(opts.Wait, caller, opts.Checkpoint, logger.With("component", "wait"))
	if opts.Sleep != nil {
		caller.sleep = opts.Sleep
		waiter.sleep = opts.Sleep
	}

	stemcells := &StemcellManager{
		images:         apis.Image,
		caller:         caller,
		infrastructure: opts.Infrastructure,
		logger:         logger.With("component", "stemcell"),
	}
	networks := &NetworkManager{
		networks: apis.Network,
		caller:   caller,
		logger:   logger.With("component", "network"),
	}
	volumes := &VolumeManager{
		volumes:    apis.BlockStorage,
		caller:     caller,
		waiter:     waiter,
		minSizeGiB: opts.MinVolumeSizeGiB,
		logger:     logger.With("component", "volume"),
	}

	return &Managers{
		Caller:    caller,
		Waiter:    waiter,
		Stemcells: stemcells,
		Networks:  networks,
		Volumes:   volumes,
		Servers: &ServerManager{
			compute:   apis.Compute,
			volumes:   apis.BlockStorage,
			caller:    caller,
			waiter:    waiter,
			stemcells: stemcells,
			networks:  networks,
			logger:    logger.With("component", "server"),
		},
		Snapshots: &VolumeSnapshotManager{
			volumes: volumes,
			storage: apis.BlockStorage,
			caller:  caller,
			waiter:  waiter,
			logger:  logger.With("component", "snapshot"),
		},
	}
}

package openstack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
)

// DynamicNetwork is the only network type this provider can handle.
const DynamicNetwork = "dynamic"

// Network is a validated single-entry network spec.
//
// Servers attach to the public Internet and private ServiceNet networks unless network_ids
// lists explicit networks, in which case only those are attached. The well-known ids are
// 00000000-0000-0000-0000-000000000000 (public) and 11111111-1111-1111-1111-111111111111
// (ServiceNet).
type Network struct {
	Name            string
	Type            string
	DNSValue        any
	CloudProperties map[string]any
}

type networkEntry struct {
	Type            string         `json:"type"`
	DNS             any            `json:"dns"`
	CloudProperties map[string]any `json:"cloud_properties"`
}

// NetworkManager validates network specs and resolves their provider networks.
type NetworkManager struct {
	networks NetworkAPI
	caller   *Caller
	logger   *slog.Logger
}

// Parse validates a raw network spec. It runs before any provider call is made.
func (m *NetworkManager) Parse(spec map[string]any) (*Network, error) {
	if len(spec) == 0 {
		return nil, cloud.ConfigurationError("At least one dynamic network should be defined")
	}
	if len(spec) > 1 {
		return nil, cloud.ConfigurationError("Must have exactly one network per instance")
	}

	for name, raw := range spec {
		if _, ok := raw.(map[string]any); !ok {
			return nil, cloud.ConfigurationError("Invalid network spec `%s': object expected, %s provided",
				name, cloud.TypeName(raw))
		}

		entry, err := cloud.Decode[networkEntry](raw)
		if err != nil {
			return nil, cloud.ConfigurationError("Invalid network spec `%s': %v", name, err)
		}

		if entry.Type != DynamicNetwork {
			return nil, cloud.ConfigurationError(
				"Invalid network type `%s': only `%s' network types are supported", entry.Type, DynamicNetwork)
		}

		cloudProperties := entry.CloudProperties
		if cloudProperties == nil {
			cloudProperties = map[string]any{}
		}

		return &Network{
			Name:            name,
			Type:            entry.Type,
			DNSValue:        entry.DNS,
			CloudProperties: cloudProperties,
		}, nil
	}
	return nil, nil // unreachable
}

// DNS returns the nameservers of the network, if any.
func (n *Network) DNS() ([]string, error) {
	return stringList("dns", n.DNSValue)
}

// NetworkIDs returns the explicit networks to attach the server to. Every id must exist at
// the provider.
func (m *NetworkManager) NetworkIDs(ctx context.Context, n *Network) ([]string, error) {
	ids, err := stringList("network_ids", n.CloudProperties["network_ids"])
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	var available []networks.Network
	err = m.caller.Do(ctx, "ListNetworks", func(ctx context.Context) error {
		var err error
		available, err = m.networks.ListNetworks(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing networks: %w", err)
	}

	known := make(map[string]bool, len(available))
	for _, network := range available {
		known[network.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return nil, cloud.NotFoundError("Network `%s' not found", id)
		}
	}

	m.logger.Debug("Using networks", "network_ids", ids)
	return ids, nil
}

// Configure applies the network configuration to a running server. Networks are fixed at
// boot time on this provider, so there is nothing to do.
func (m *NetworkManager) Configure(_ context.Context, _ *servers.Server, _ *Network) error {
	return nil
}

func stringList(field string, value any) ([]string, error) {
	if value == nil {
		return []string{}, nil
	}

	items, ok := value.([]any)
	if !ok {
		if strs, ok := value.([]string); ok {
			return strs, nil
		}
		return nil, cloud.ConfigurationError("Invalid %s: array expected, %s provided", field, cloud.TypeName(value))
	}

	list := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, cloud.ConfigurationError("Invalid %s entry: string expected, %s provided", field, cloud.TypeName(item))
		}
		list = append(list, s)
	}
	return list, nil
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud/openstack"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud/openstack/openstacktest"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/config"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const missingAll = "Missing configuration parameters: rackspace:username, rackspace:api_key, " +
	"registry:endpoint, registry:user, registry:password"

// memRegistry stores records serialized, like the real registry does.
type memRegistry struct {
	records   map[string][]byte
	updateErr error
	writes    int
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: map[string][]byte{}}
}

func (r *memRegistry) ReadSettings(_ context.Context, name string) (registry.Settings, error) {
	data, ok := r.records[name]
	if !ok {
		return nil, fmt.Errorf("Cannot read settings for `%s', got HTTP 404", name)
	}
	var s registry.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *memRegistry) UpdateSettings(_ context.Context, name string, s registry.Settings) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	r.records[name] = data
	r.writes++
	return nil
}

func (r *memRegistry) DeleteSettings(_ context.Context, name string) error {
	delete(r.records, name)
	return nil
}

func (r *memRegistry) settings(t *testing.T, name string) registry.Settings {
	t.Helper()
	s, err := r.ReadSettings(context.Background(), name)
	require.NoError(t, err)
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(t *testing.T) *config.Options {
	t.Helper()
	opts, err := config.FromMap(map[string]any{
		"rackspace": map[string]any{"username": "admin", "api_key": "secret"},
		"registry":  map[string]any{"endpoint": "http://registry:25777", "user": "u", "password": "p"},
		"agent":     map[string]any{"mbus": "nats://nats:4222", "ntp": []any{"pool.ntp.org"}},
		"wait":      map[string]any{"max_tries": 10},
		"volume":    map[string]any{"min_size_gib": 1},
	})
	require.NoError(t, err)
	return opts
}

func newTestCloud(t *testing.T) (*Cloud, *openstacktest.Provider, *memRegistry) {
	t.Helper()
	opts := testOptions(t)
	p := openstacktest.NewProvider()
	reg := newMemRegistry()

	managers := openstack.NewManagers(
		openstack.APIs{Compute: p, BlockStorage: p, Image: p, Network: p},
		openstack.ManagerOptions{
			Retry:            opts.RetryConfig(),
			Wait:             opts.WaitConfig(),
			MinVolumeSizeGiB: opts.Volume.MinSizeGiB,
			Infrastructure:   opts.Stemcell.Infrastructure,
			Logger:           testLogger(),
			Sleep:            func(context.Context, time.Duration) error { return nil },
		})

	c, err := New(opts, managers, reg, testLogger())
	require.NoError(t, err)
	return c, p, reg
}

var (
	dynamicSpec  = map[string]any{"default": map[string]any{"type": "dynamic", "dns": []any{"8.8.8.8"}}}
	resourcePool = map[string]any{"instance_type": "m1.small"}
)

func createVM(t *testing.T, c *Cloud) string {
	t.Helper()
	id, err := c.CreateVM(context.Background(), "agent-1", "image-id", resourcePool, dynamicSpec, nil,
		map[string]any{"bosh": map[string]any{"password": "hash"}})
	require.NoError(t, err)
	return id
}

func TestNew_ValidatesOptions(t *testing.T) {
	_, err := New(&config.Options{}, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cloud.ErrConfiguration))
	assert.Equal(t, missingAll, err.Error())

	_, err = New(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestConnect_ValidatesBeforeConnecting(t *testing.T) {
	opts := &config.Options{Registry: config.RegistryOptions{Endpoint: "http://registry", User: "u", Password: "p"}}

	_, err := Connect(context.Background(), opts, testLogger())
	require.Error(t, err)
	assert.Equal(t, "Missing configuration parameters: rackspace:username, rackspace:api_key", err.Error())
}

func TestCloud_CreateVM(t *testing.T) {
	c, p, reg := newTestCloud(t)

	serverID := createVM(t, c)
	server := p.Servers[serverID]
	require.NotNil(t, server)

	s := reg.settings(t, server.Name)
	assert.Equal(t, map[string]any{"name": server.Name}, s["vm"])
	assert.Equal(t, "agent-1", s["agent_id"])
	assert.Equal(t, map[string]any{"bosh": map[string]any{"password": "hash"}}, s["env"])
	assert.Equal(t, "nats://nats:4222", s["mbus"])
	assert.Equal(t, map[string]any{"system": "/dev/xvda", "persistent": map[string]any{}}, s["disks"])

	networks, _ := json.Marshal(s["networks"])
	assert.JSONEq(t, `{"default":{"type":"dynamic","dns":["8.8.8.8"]}}`, string(networks))
}

func TestCloud_CreateVMInvalidNetwork(t *testing.T) {
	c, p, reg := newTestCloud(t)

	spec := map[string]any{
		"a": map[string]any{"type": "dynamic"},
		"b": map[string]any{"type": "dynamic"},
	}
	_, err := c.CreateVM(context.Background(), "agent-1", "image-id", resourcePool, spec, nil, nil)
	require.Error(t, err)
	assert.Equal(t, "Must have exactly one network per instance", err.Error())
	assert.Empty(t, p.Calls)
	assert.Zero(t, reg.writes)
}

func TestCloud_CreateVMRegistryFailure(t *testing.T) {
	c, _, reg := newTestCloud(t)
	reg.updateErr = errors.New("registry down")

	_, err := c.CreateVM(context.Background(), "agent-1", "image-id", resourcePool, dynamicSpec, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, reg.updateErr)
}

func TestCloud_CreateThenDeleteVMLeavesNoSettings(t *testing.T) {
	c, p, reg := newTestCloud(t)
	ctx := context.Background()

	serverID := createVM(t, c)
	name := p.Servers[serverID].Name
	require.Contains(t, reg.records, name)

	require.NoError(t, c.DeleteVM(ctx, serverID))
	assert.NotContains(t, reg.records, name)
	assert.NotContains(t, p.Servers, serverID)

	exists, err := c.HasVM(ctx, serverID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCloud_DeleteVMKeepsSettingsWhenTerminateFails(t *testing.T) {
	c, p, reg := newTestCloud(t)

	serverID := createVM(t, c)
	name := p.Servers[serverID].Name
	p.Errors["DeleteServer"] = errors.New("boom")

	err := c.DeleteVM(context.Background(), serverID)
	require.Error(t, err)
	assert.Contains(t, reg.records, name)
}

func TestCloud_AttachDetachRoundTrip(t *testing.T) {
	c, p, reg := newTestCloud(t)
	ctx := context.Background()

	serverID := createVM(t, c)
	name := p.Servers[serverID].Name

	// A key written by someone else must survive the read-modify-write.
	s := reg.settings(t, name)
	s["blobstore"] = map[string]any{"provider": "dav"}
	require.NoError(t, reg.UpdateSettings(ctx, name, s))
	before := reg.settings(t, name)

	volumeID, err := c.CreateDisk(ctx, 1024, serverID)
	require.NoError(t, err)

	require.NoError(t, c.AttachDisk(ctx, serverID, volumeID))
	attached := reg.settings(t, name)
	assert.Equal(t, map[string]string{volumeID: "/dev/xvdb"}, attached.PersistentDisks())
	assert.Equal(t, before["blobstore"], attached["blobstore"])

	disks, err := c.GetDisks(ctx, serverID)
	require.NoError(t, err)
	assert.Equal(t, []string{volumeID}, disks)

	require.NoError(t, c.DetachDisk(ctx, serverID, volumeID))
	assert.Equal(t, before, reg.settings(t, name))

	disks, err = c.GetDisks(ctx, serverID)
	require.NoError(t, err)
	assert.Empty(t, disks)
}

func TestCloud_AttachDiskMissingVolume(t *testing.T) {
	c, p, reg := newTestCloud(t)
	serverID := createVM(t, c)
	writes := reg.writes

	err := c.AttachDisk(context.Background(), serverID, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cloud.ErrNotFound))
	assert.Zero(t, p.CallCount("AttachVolume"))
	assert.Equal(t, writes, reg.writes)
}

func TestCloud_ConfigureNetworks(t *testing.T) {
	c, p, reg := newTestCloud(t)
	ctx := context.Background()

	serverID := createVM(t, c)
	name := p.Servers[serverID].Name
	before := reg.settings(t, name)

	spec := map[string]any{"private": map[string]any{"type": "dynamic"}}
	require.NoError(t, c.ConfigureNetworks(ctx, serverID, spec))

	after := reg.settings(t, name)
	networks, _ := json.Marshal(after["networks"])
	assert.JSONEq(t, `{"private":{"type":"dynamic"}}`, string(networks))

	delete(before, "networks")
	delete(after, "networks")
	assert.Equal(t, before, after)

	err := c.ConfigureNetworks(ctx, serverID, map[string]any{"x": map[string]any{"type": "manual"}})
	assert.True(t, errors.Is(err, cloud.ErrConfiguration))
}

func TestCloud_ConfigureNetworksInvalidSpec(t *testing.T) {
	c, p, reg := newTestCloud(t)
	serverID := createVM(t, c)
	calls := len(p.Calls)
	writes := reg.writes

	tests := []struct {
		name    string
		spec    map[string]any
		wantMsg string
	}{
		{
			name:    "No networks",
			spec:    map[string]any{},
			wantMsg: "At least one dynamic network should be defined",
		},
		{
			name: "Two networks",
			spec: map[string]any{
				"a": map[string]any{"type": "dynamic"},
				"b": map[string]any{"type": "dynamic"},
			},
			wantMsg: "Must have exactly one network per instance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ConfigureNetworks(context.Background(), serverID, tt.spec)
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Len(t, p.Calls, calls)
			assert.Equal(t, writes, reg.writes)
		})
	}
}

func TestCloud_AttachDiskToNullSettingsRecord(t *testing.T) {
	c, p, reg := newTestCloud(t)
	ctx := context.Background()

	serverID := createVM(t, c)
	name := p.Servers[serverID].Name
	reg.records[name] = []byte("null")

	volumeID, err := c.CreateDisk(ctx, 1024, serverID)
	require.NoError(t, err)

	require.NoError(t, c.AttachDisk(ctx, serverID, volumeID))
	assert.Equal(t, map[string]string{volumeID: "/dev/xvdb"}, reg.settings(t, name).PersistentDisks())
}

func TestCloud_ServerOperations(t *testing.T) {
	c, p, _ := newTestCloud(t)
	ctx := context.Background()
	serverID := createVM(t, c)

	require.NoError(t, c.RebootVM(ctx, serverID))
	assert.Equal(t, 1, p.CallCount("RebootServer"))

	require.NoError(t, c.SetVMMetadata(ctx, serverID, map[string]any{"job": "web", "index": float64(2)}))
	assert.Equal(t, map[string]string{"job": "web", "index": "2"}, p.Metadata[serverID])

	exists, err := c.HasVM(ctx, serverID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCloud_StemcellOperations(t *testing.T) {
	c, p, _ := newTestCloud(t)
	ctx := context.Background()

	id, err := c.CreateStemcell(ctx, "/tmp/image", map[string]any{"infrastructure": "rackspace", "image_id": "image-id"})
	require.NoError(t, err)
	assert.Equal(t, "image-id", id)

	require.NoError(t, c.DeleteStemcell(ctx, id))
	assert.Contains(t, p.Images, id)
}

func TestCloud_DiskAndSnapshotOperations(t *testing.T) {
	c, p, _ := newTestCloud(t)
	ctx := context.Background()

	_, err := c.CreateDisk(ctx, 512, "")
	require.Error(t, err, "below the configured 1 GiB floor")
	assert.Zero(t, p.CallCount("CreateVolume"))

	volumeID, err := c.CreateDisk(ctx, 2048, "")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Volumes[volumeID].Size)

	snapshotID, err := c.SnapshotDisk(ctx, volumeID, map[string]any{"deployment": "cf", "job": "db", "index": float64(0)})
	require.NoError(t, err)
	assert.Equal(t, "cf/db/0", p.Snapshots[snapshotID].Description)

	require.NoError(t, c.DeleteSnapshot(ctx, snapshotID))
	assert.NotContains(t, p.Snapshots, snapshotID)

	require.NoError(t, c.DeleteDisk(ctx, volumeID))
	assert.NotContains(t, p.Volumes, volumeID)
}

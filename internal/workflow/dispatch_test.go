package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatcherFor(c *Cloud, connects *int) *Dispatcher {
	return &Dispatcher{
		Logger: testLogger(),
		Connect: func(ctx context.Context) (*Cloud, error) {
			*connects++
			return c, nil
		},
	}
}

func TestDispatch_WithoutProvider(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		wantType string
		wantMsg  string
	}{
		{
			name:     "Unknown method",
			req:      Request{Method: "launch_rocket"},
			wantType: ErrorTypeNotImplemented,
			wantMsg:  "`launch_rocket' is not implemented",
		},
		{
			name:     "Validate deployment",
			req:      Request{Method: "validate_deployment", Arguments: []any{map[string]any{}, map[string]any{}}},
			wantType: ErrorTypeNotImplemented,
		},
		{
			name:     "Wrong argument type",
			req:      Request{Method: "attach_disk", Arguments: []any{float64(1), "vol-1"}},
			wantType: ErrorTypeCPI,
			wantMsg:  "Invalid arguments for attach_disk: argument 0: string expected, number provided",
		},
		{
			name:     "Missing argument",
			req:      Request{Method: "delete_vm"},
			wantType: ErrorTypeCPI,
		},
		{
			name:     "Non-integer disk size",
			req:      Request{Method: "create_disk", Arguments: []any{1.5, map[string]any{}, "server-1"}},
			wantType: ErrorTypeCloud,
			wantMsg:  "Volume size needs to be an Integer",
		},
		{
			name:     "Invalid environment",
			req:      Request{Method: "create_vm", Arguments: []any{"agent", "image-id", map[string]any{}, map[string]any{}, nil, "env"}},
			wantType: ErrorTypeCPI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connects := 0
			d := dispatcherFor(nil, &connects)

			resp := d.Dispatch(context.Background(), tt.req)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantType, resp.Error.Type)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Error.Message)
			}
			assert.False(t, resp.Error.OkToRetry)
			assert.Zero(t, connects)
		})
	}
}

func TestDispatch_Info(t *testing.T) {
	connects := 0
	resp := dispatcherFor(nil, &connects).Dispatch(context.Background(), Request{Method: "info"})

	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"stemcell_formats": StemcellFormats}, resp.Result)
	assert.Zero(t, connects)
}

func TestDispatch_Operations(t *testing.T) {
	c, p, reg := newTestCloud(t)
	connects := 0
	d := dispatcherFor(c, &connects)
	ctx := context.Background()

	call := func(method string, args ...any) any {
		t.Helper()
		resp := d.Dispatch(ctx, Request{Method: method, Arguments: args})
		require.Nil(t, resp.Error, "%s: %+v", method, resp.Error)
		return resp.Result
	}

	stemcellID := call("create_stemcell", "/tmp/image", map[string]any{"infrastructure": "rackspace", "image_id": "image-id"})
	assert.Equal(t, "image-id", stemcellID)

	serverID := call("create_vm", "agent-1", stemcellID, resourcePool, dynamicSpec, []any{}, nil).(string)
	name := p.Servers[serverID].Name
	assert.Contains(t, reg.records, name)

	assert.Equal(t, true, call("has_vm", serverID))
	assert.Nil(t, call("set_vm_metadata", serverID, map[string]any{"job": "web"}))
	assert.Nil(t, call("reboot_vm", serverID))
	assert.Nil(t, call("configure_networks", serverID, dynamicSpec))

	diskID := call("create_disk", float64(2048), map[string]any{}, serverID).(string)
	assert.Equal(t, 2, p.Volumes[diskID].Size)
	legacyDiskID := call("create_disk", float64(1024), serverID).(string)
	assert.NotEqual(t, diskID, legacyDiskID)

	call("attach_disk", serverID, diskID)
	assert.Equal(t, []string{diskID}, call("get_disks", serverID))

	snapshotID := call("snapshot_disk", diskID, map[string]any{"deployment": "cf", "job": "web", "index": float64(0)}).(string)
	assert.Equal(t, "cf/web/0/xvdb", p.Snapshots[snapshotID].Description)
	call("delete_snapshot", snapshotID)

	call("detach_disk", serverID, diskID)
	assert.Equal(t, []string{}, call("get_disks", serverID))
	call("delete_disk", diskID)

	call("delete_vm", serverID)
	assert.NotContains(t, reg.records, name)
	assert.Equal(t, false, call("has_vm", serverID))

	call("delete_stemcell", stemcellID)
	assert.Equal(t, 18, connects)
}

func TestDispatch_VMCreationFailed(t *testing.T) {
	c, p, _ := newTestCloud(t)
	p.BootStatus = "ERROR"
	connects := 0

	resp := dispatcherFor(c, &connects).Dispatch(context.Background(), Request{
		Method:    "create_vm",
		Arguments: []any{"agent-1", "image-id", resourcePool, dynamicSpec, nil, nil},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorTypeVMCreationFailed, resp.Error.Type)
	assert.True(t, resp.Error.OkToRetry)
}

func TestDispatch_CloudErrors(t *testing.T) {
	c, _, _ := newTestCloud(t)
	connects := 0

	resp := dispatcherFor(c, &connects).Dispatch(context.Background(), Request{
		Method: "delete_disk", Arguments: []any{"vol-missing"},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorTypeCloud, resp.Error.Type)
	assert.Equal(t, "Volume `vol-missing' not found", resp.Error.Message)
}

func TestDispatch_ConnectFailure(t *testing.T) {
	d := &Dispatcher{
		Logger: testLogger(),
		Connect: func(ctx context.Context) (*Cloud, error) {
			return nil, cloud.ConfigurationError(missingAll)
		},
	}

	resp := d.Dispatch(context.Background(), Request{Method: "has_vm", Arguments: []any{"server-1"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorTypeCloud, resp.Error.Type)
	assert.Equal(t, missingAll, resp.Error.Message)
}

func TestServe(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantType  string
		wantValue any
	}{
		{
			name:      "Info request",
			input:     `{"method":"info","arguments":[],"context":{"director_uuid":"abc"}}`,
			wantValue: map[string]any{"stemcell_formats": []any{"rackspace-light"}},
		},
		{
			name:     "Malformed request",
			input:    `{"method":`,
			wantType: ErrorTypeCPI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connects := 0
			var out bytes.Buffer

			err := dispatcherFor(nil, &connects).Serve(context.Background(), strings.NewReader(tt.input), &out)
			require.NoError(t, err)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
			assert.Contains(t, resp, "log")

			if tt.wantType != "" {
				errObj, ok := resp["error"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, tt.wantType, errObj["type"])
				assert.Equal(t, false, errObj["ok_to_retry"])
				return
			}
			assert.Nil(t, resp["error"])
			assert.Equal(t, tt.wantValue, resp["result"])
		})
	}
}

func TestServe_WriteFailure(t *testing.T) {
	connects := 0
	err := dispatcherFor(nil, &connects).Serve(context.Background(), strings.NewReader(`{"method":"info"}`), failingWriter{})
	assert.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

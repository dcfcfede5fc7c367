package openstack

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServiceClient points a gophercloud service client at an httptest server.
func newServiceClient(t *testing.T, mux *http.ServeMux) *gophercloud.ServiceClient {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &gophercloud.ServiceClient{
		ProviderClient: &gophercloud.ProviderClient{TokenID: "token"},
		Endpoint:       srv.URL + "/",
	}
}

func TestComputeAPI_GetServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers/s-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Auth-Token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"server": {"id": "s-1", "name": "server-abc", "status": "ACTIVE"}}`)
	})
	mux.HandleFunc("GET /servers/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"itemNotFound": {"code": 404}}`, http.StatusNotFound)
	})

	api := NewComputeAPI(newServiceClient(t, mux))

	server, err := api.GetServer(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "server-abc", server.Name)
	assert.Equal(t, "ACTIVE", server.Status)

	_, err = api.GetServer(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, isNotFound(err))
}

func TestComputeAPI_ListVolumeAttachments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers/s-1/os-volume_attachments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"volumeAttachments": [
			{"id": "v-1", "device": "/dev/xvdb", "serverId": "s-1", "volumeId": "v-1"},
			{"id": "v-2", "device": "/dev/xvdc", "serverId": "s-1", "volumeId": "v-2"}
		]}`)
	})

	api := NewComputeAPI(newServiceClient(t, mux))

	attachments, err := api.ListVolumeAttachments(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, attachments, 2)
	assert.Equal(t, "/dev/xvdc", attachments[1].Device)
	assert.Equal(t, "v-2", attachments[1].VolumeID)
}

func TestNetworkAPI_ListNetworks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /networks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"networks": [{"id": "n-1", "name": "private"}]}`)
	})

	api := NewNetworkAPI(newServiceClient(t, mux))

	nets, err := api.ListNetworks(context.Background())
	require.NoError(t, err)
	require.Len(t, nets, 1)
	assert.Equal(t, "n-1", nets[0].ID)
}

func TestCaller_RetriesOverLimitResponses(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers/s-1", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n <= 2 {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			fmt.Fprint(w, `{"overLimit": {"code": 413, "message": "slow down", "retryAfter": "3"}}`)
			return
		}
		fmt.Fprint(w, `{"server": {"id": "s-1", "name": "server-abc", "status": "ACTIVE"}}`)
	})

	api := NewComputeAPI(newServiceClient(t, mux))
	clock := newFakeClock()
	caller := newTestCaller(clock)

	err := caller.Do(context.Background(), "GetServer", func(ctx context.Context) error {
		_, err := api.GetServer(ctx, "s-1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clock.sleeps)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, requests)
}

func TestCaller_OverLimitBudgetAgainstServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /servers/s-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		fmt.Fprint(w, `{"overLimitFault": {"code": 413}}`)
	})

	api := NewComputeAPI(newServiceClient(t, mux))
	clock := newFakeClock()
	caller := newTestCaller(clock)

	err := caller.Do(context.Background(), "DeleteServer", func(ctx context.Context) error {
		return api.DeleteServer(ctx, "s-1")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cloud.ErrRateLimit)
	assert.Len(t, clock.sleeps, cloud.DefaultMaxRetries)
}

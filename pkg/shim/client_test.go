package shim

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/cuemby/orbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instanceForServer(srv *httptest.Server) *types.Instance {
	addr := srv.Listener.Addr().(*net.TCPAddr)
	return &types.Instance{
		ID:     "i-1",
		Status: types.InstanceProvisioning,
		JobProvisioningData: &types.JobProvisioningData{
			Hostname: addr.IP.String(),
			PublicIP: addr.IP.String(),
			Port:     addr.Port,
		},
	}
}

func TestClient_Check_HealthyWithoutHostInfoFetchesInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc(infoPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.HostInfo{CPUs: 8, MemoryBytes: 16 << 30})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient()
	healthy, hostInfo, err := c.Check(instanceForServer(srv))
	require.NoError(t, err)
	assert.True(t, healthy)
	require.NotNil(t, hostInfo)
	assert.Equal(t, 8, hostInfo.CPUs)
}

func TestClient_Check_HealthyWithExistingHostInfoSkipsFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc(infoPath, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("info should not be fetched when HostInfo is already known")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	inst := instanceForServer(srv)
	inst.JobProvisioningData.HostInfo = &types.HostInfo{CPUs: 4}

	c := NewClient()
	healthy, hostInfo, err := c.Check(inst)
	require.NoError(t, err)
	assert.True(t, healthy)
	assert.Nil(t, hostInfo)
}

func TestClient_Check_UnhealthyReturnsFalse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient()
	healthy, hostInfo, err := c.Check(instanceForServer(srv))
	require.NoError(t, err)
	assert.False(t, healthy)
	assert.Nil(t, hostInfo)
}

func TestResolveAddr_NoConnectionInfoErrors(t *testing.T) {
	_, err := resolveAddr(&types.Instance{ID: "i-1"})
	assert.Error(t, err)
}

func TestResolveAddr_PrefersRemoteConnectionInfo(t *testing.T) {
	inst := &types.Instance{
		ID:                   "i-1",
		RemoteConnectionInfo: &types.RemoteConnectionInfo{Hostname: "10.0.0.5", Port: 2222},
		JobProvisioningData:  &types.JobProvisioningData{Hostname: "ignored"},
	}
	addr, err := resolveAddr(inst)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:2222", addr)
}

func TestResolveAddr_DefaultPortWhenUnset(t *testing.T) {
	inst := &types.Instance{
		ID:                   "i-1",
		RemoteConnectionInfo: &types.RemoteConnectionInfo{Hostname: "10.0.0.5"},
	}
	addr, err := resolveAddr(inst)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(defaultPort), addr[len(addr)-len(strconv.Itoa(defaultPort)):])
}

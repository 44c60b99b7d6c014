// Package shim talks to the small agent ("the shim") that orbiter expects
// to be running on every provisioned instance, whether that instance came
// from a cloud backend's cloud-init/startup-script or was attached over
// SSH by a user who already had a host. The shim exposes two HTTP
// endpoints: GET /health (liveness) and GET /info (one-time resource
// inventory, reported once per instance lifetime).
//
// Client implements reconciler.HealthChecker so pkg/reconciler/instance.go
// can depend on the interface without importing this package's transport
// details.
package shim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/orbiter/pkg/health"
	"github.com/cuemby/orbiter/pkg/types"
)

const (
	defaultPort    = 9999
	healthPath     = "/health"
	infoPath       = "/info"
	requestTimeout = 10 * time.Second
)

// Client polls an instance's shim over HTTP only. A failed /health request
// (including the window before the shim process binds its port) is reported
// as unhealthy; there is no TCP fallback.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a shim client shared across every instance; per-instance
// state (host, port) is resolved fresh on every Check call from the
// instance's current JobProvisioningData/RemoteConnectionInfo.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: requestTimeout}}
}

// Check implements reconciler.HealthChecker. It resolves the instance's
// shim address, probes /health, and — the first time the instance reports
// healthy — fetches /info for the HostInfo the instance reconciler needs
// to move the instance to Idle.
func (c *Client) Check(inst *types.Instance) (bool, *types.HostInfo, error) {
	addr, err := resolveAddr(inst)
	if err != nil {
		return false, nil, err
	}

	httpChecker := health.NewHTTPChecker(fmt.Sprintf("http://%s%s", addr, healthPath)).
		WithTimeout(requestTimeout)
	result := httpChecker.Check(context.Background())
	if !result.Healthy {
		return false, nil, nil
	}

	var hostInfo *types.HostInfo
	if inst.JobProvisioningData == nil || inst.JobProvisioningData.HostInfo == nil {
		hostInfo, err = c.fetchHostInfo(addr)
		if err != nil {
			// Reachable but /info not ready yet (shim still starting up) is
			// not a hard failure: keep the instance in Provisioning for the
			// next tick rather than bouncing it to Terminating.
			return false, nil, nil
		}
	}

	return true, hostInfo, nil
}

// fetchHostInfo calls the shim's one-shot resource inventory endpoint.
func (c *Client) fetchHostInfo(addr string) (*types.HostInfo, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("http://%s%s", addr, infoPath))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shim info returned %d", resp.StatusCode)
	}

	var info types.HostInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode shim info: %w", err)
	}
	return &info, nil
}

// resolveAddr derives the shim's host:port from whichever half of the
// instance's connection info is populated.
func resolveAddr(inst *types.Instance) (string, error) {
	if inst.RemoteConnectionInfo != nil && inst.RemoteConnectionInfo.Hostname != "" {
		port := inst.RemoteConnectionInfo.Port
		if port == 0 {
			port = defaultPort
		}
		return fmt.Sprintf("%s:%d", inst.RemoteConnectionInfo.Hostname, port), nil
	}
	if inst.JobProvisioningData != nil && inst.JobProvisioningData.Hostname != "" {
		host := inst.JobProvisioningData.Hostname
		if inst.JobProvisioningData.PublicIP != "" {
			host = inst.JobProvisioningData.PublicIP
		}
		port := inst.JobProvisioningData.Port
		if port == 0 {
			port = defaultPort
		}
		return fmt.Sprintf("%s:%d", host, port), nil
	}
	return "", fmt.Errorf("instance %s has no reachable address yet", inst.ID)
}

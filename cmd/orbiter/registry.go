package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/compute/aws"
	"github.com/cuemby/orbiter/pkg/compute/azure"
	"github.com/cuemby/orbiter/pkg/compute/gcp"
	"github.com/cuemby/orbiter/pkg/compute/local"
	"github.com/cuemby/orbiter/pkg/config"
	"github.com/cuemby/orbiter/pkg/log"
	"github.com/cuemby/orbiter/pkg/security"
	"github.com/cuemby/orbiter/pkg/types"
)

// buildSecretsManager derives the process-wide credential encryption key
// from ORBITER_ENCRYPTION_KEY (a 64-char hex-encoded 32-byte key) when set,
// or else from ORBITER_CLUSTER_ID the way a cluster-init flow
// derives its CA key, so a fresh single-node deployment works with zero
// required configuration.
func buildSecretsManager() (*security.SecretsManager, error) {
	if hexKey := os.Getenv("ORBITER_ENCRYPTION_KEY"); hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("ORBITER_ENCRYPTION_KEY must be hex-encoded: %w", err)
		}
		return security.NewSecretsManager(key)
	}

	clusterID := os.Getenv("ORBITER_CLUSTER_ID")
	if clusterID == "" {
		clusterID = "orbiter-dev"
	}
	return security.NewSecretsManager(security.DeriveKeyFromClusterID(clusterID))
}

// buildRegistry constructs one compute.Backend per configured backend and
// registers it under its configured ID. Credential files are read off disk,
// round-tripped through pkg/security so they never sit in process memory
// in plaintext for longer than the adapter construction call, and handed
// to the adapter's constructor.
//
// lambda, vastai, tensordock, datacrunch, nebius, dstack and ssh are recognized
// BackendKinds (pkg/types) without an adapter implementation yet; a backend
// configured with one of those kinds is logged and skipped rather than
// failing startup, so a partially-implemented fleet of backends can still
// serve the ones that exist.
func buildRegistry(ctx context.Context, cfgs []config.BackendConfig, sm *security.SecretsManager) (*compute.Registry, error) {
	registry := compute.NewRegistry()
	logger := log.WithComponent("registry")

	for _, bc := range cfgs {
		switch bc.Kind {
		case types.BackendLocal:
			registry.Register(bc.ID, local.New(local.Config{
				BackendID: bc.ID,
				Region:    firstOr(bc.Regions, "local"),
				LaunchCmd: []string{"true"},
			}))

		case types.BackendAWS:
			raw, err := readCredential(bc.CredentialFile, sm)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
			}
			backend, err := aws.New(ctx, bc.ID, bc.Regions, raw)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
			}
			registry.Register(bc.ID, backend)

		case types.BackendGCP:
			raw, err := readCredential(bc.CredentialFile, sm)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
			}
			backend, err := gcp.New(ctx, bc.ID, bc.ProjectID, bc.Regions, raw)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
			}
			registry.Register(bc.ID, backend)

		case types.BackendAzure:
			raw, err := readCredential(bc.CredentialFile, sm)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
			}
			backend, err := azure.New(ctx, bc.ID, bc.Regions, raw)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
			}
			registry.Register(bc.ID, backend)

		default:
			logger.Warn().Str("backend_id", bc.ID).Str("kind", string(bc.Kind)).
				Msg("no adapter implemented for this backend kind, skipping")
		}
	}

	return registry, nil
}

// readCredential reads a backend's plaintext credential file and round-trips
// it through the configured SecretsManager, mirroring the encrypt-at-rest
// path a persisted types.Backend.EncryptedCredential goes through.
func readCredential(path string, sm *security.SecretsManager) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no credential_file configured")
	}
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	encrypted, err := sm.EncryptBackendCredential(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}
	return sm.DecryptBackendCredential(&types.Backend{EncryptedCredential: encrypted})
}

func firstOr(vals []string, fallback string) string {
	if len(vals) > 0 {
		return vals[0]
	}
	return fallback
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FillsDefaultsWhenUnset(t *testing.T) {
	path := writeTempConfig(t, `
data_dir: /var/lib/orbiter
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/orbiter", cfg.DataDir)
	assert.Equal(t, DefaultReconcileConfig(), cfg.Reconcile)
	assert.Equal(t, DefaultOfferConfig(), cfg.Offers)
}

func TestLoad_ParsesBackends(t *testing.T) {
	path := writeTempConfig(t, `
backends:
  - id: aws-us-east
    project_id: p-1
    kind: aws
    regions: [us-east-1]
    credential_file: /etc/orbiter/aws-creds.json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "aws-us-east", cfg.Backends[0].ID)
	assert.Equal(t, []string{"us-east-1"}, cfg.Backends[0].Regions)
}

func TestLoad_RejectsDuplicateBackendIDs(t *testing.T) {
	path := writeTempConfig(t, `
backends:
  - id: dup
    kind: aws
  - id: dup
    kind: gcp
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/orbiter.yaml")
	assert.Error(t, err)
}

// Package config loads orbiter's on-disk YAML configuration: storage
// location, reconciler tuning, offer cache behavior, and the set of cloud
// backends the control plane is allowed to place instances on.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/orbiter/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the root of orbiter's YAML configuration file.
type Config struct {
	// DataDir holds the bbolt database file (storage.BoltStore). Ignored
	// when Storage is "memory".
	DataDir string `yaml:"data_dir"`

	// Storage selects the Store implementation: "bolt" (default) or
	// "memory" (development/test only, nothing survives a restart).
	Storage string `yaml:"storage"`

	MetricsAddr string `yaml:"metrics_addr"`

	WorkerCap int `yaml:"worker_cap"`

	Reconcile ReconcileConfig `yaml:"reconcile"`
	Offers    OfferConfig     `yaml:"offers"`
	Backends  []BackendConfig `yaml:"backends"`
}

// ReconcileConfig tunes the per-entity Dispatcher tasks. Zero values fall
// back to DefaultReconcileConfig.
type ReconcileConfig struct {
	InstanceInterval time.Duration `yaml:"instance_interval"`
	JobInterval      time.Duration `yaml:"job_interval"`
	RunInterval      time.Duration `yaml:"run_interval"`
	FleetInterval    time.Duration `yaml:"fleet_interval"`
	BatchSize        int           `yaml:"batch_size"`
}

// OfferConfig holds offer cache settings read from the config file.
// pkg/offer.Engine does not read it: offer.New always uses
// offer.DefaultCacheTTL and offer.DefaultTopK.
type OfferConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	TopK     int           `yaml:"top_k"`
}

// BackendConfig describes one configured cloud backend credential set.
// CredentialFile holds the plaintext credential on disk (a local secrets
// vault path, a mounted k8s secret, ...); orbiter encrypts it at load time
// with pkg/security before anything else ever sees it, and the plaintext
// is never persisted by orbiter itself.
type BackendConfig struct {
	ID             string            `yaml:"id"`
	ProjectID      string            `yaml:"project_id"`
	Kind           types.BackendKind `yaml:"kind"`
	Regions        []string          `yaml:"regions"`
	CredentialFile string            `yaml:"credential_file"`
}

// DefaultReconcileConfig mirrors typical reconciler/scheduler tick
// rates (instance health more frequent than fleet bookkeeping).
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		InstanceInterval: 15 * time.Second,
		JobInterval:      10 * time.Second,
		RunInterval:      10 * time.Second,
		FleetInterval:    30 * time.Second,
		BatchSize:        50,
	}
}

// DefaultOfferConfig mirrors pkg/offer's package defaults.
func DefaultOfferConfig() OfferConfig {
	return OfferConfig{CacheTTL: 60 * time.Second, TopK: 50}
}

// Load reads and parses a YAML config file at path, filling in defaults
// for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Storage:     "bolt",
		DataDir:     "./orbiter-data",
		MetricsAddr: "127.0.0.1:9090",
		Reconcile:   DefaultReconcileConfig(),
		Offers:      DefaultOfferConfig(),
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Reconcile.InstanceInterval == 0 {
		cfg.Reconcile = DefaultReconcileConfig()
	}
	if cfg.Offers.CacheTTL == 0 {
		cfg.Offers = DefaultOfferConfig()
	}
	if cfg.WorkerCap <= 0 {
		cfg.WorkerCap = 0 // scheduler.New falls back to DefaultWorkerCap()
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend config missing id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
		if b.Kind == "" {
			return fmt.Errorf("backend %q missing kind", b.ID)
		}
	}
	return nil
}

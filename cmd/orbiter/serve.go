package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/compute"
	"github.com/cuemby/orbiter/pkg/config"
	"github.com/cuemby/orbiter/pkg/log"
	"github.com/cuemby/orbiter/pkg/metrics"
	"github.com/cuemby/orbiter/pkg/reconciler"
	"github.com/cuemby/orbiter/pkg/scheduler"
	"github.com/cuemby/orbiter/pkg/shim"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orbiter control plane (reconcilers, scheduler, metrics server)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("main")

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	sm, err := buildSecretsManager()
	if err != nil {
		return fmt.Errorf("build secrets manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := buildRegistry(ctx, cfg.Backends, sm)
	if err != nil {
		return fmt.Errorf("build backend registry: %w", err)
	}

	clk := clock.Real()
	healthChecker := shim.NewClient()

	dispatcher := scheduler.New(store, clk, cfg.WorkerCap)
	registerReconcilers(dispatcher, store, registry, healthChecker, clk, cfg.Reconcile)

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("dispatcher", true, "")

	httpServer := newMetricsServer(cfg.MetricsAddr)

	dispatcher.Start()
	logger.Info().Str("metrics_addr", cfg.MetricsAddr).Msg("orbiter started")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	dispatcher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage == "memory" {
		return storage.NewMemStore(), nil
	}
	return storage.NewBoltStore(cfg.DataDir)
}

func registerReconcilers(
	d *scheduler.Dispatcher,
	store storage.Store,
	registry *compute.Registry,
	health reconciler.HealthChecker,
	clk clock.Clock,
	cfg config.ReconcileConfig,
) {
	instanceRec := reconciler.NewInstanceReconciler(store, registry, health, clk)
	jobRec := reconciler.NewJobReconciler(store, clk)
	runRec := reconciler.NewRunReconciler(store, clk)
	fleetRec := reconciler.NewFleetReconciler(store, registry, clk)

	d.Register(&scheduler.Task{
		Name:       "instance",
		Interval:   cfg.InstanceInterval,
		BatchSize:  cfg.BatchSize,
		Candidates: instanceRec.Candidates,
		Handle:     instanceRec.Handle,
	})
	d.Register(&scheduler.Task{
		Name:       "job",
		Interval:   cfg.JobInterval,
		BatchSize:  cfg.BatchSize,
		Candidates: jobRec.Candidates,
		Handle:     jobRec.Handle,
	})
	d.Register(&scheduler.Task{
		Name:       "run",
		Interval:   cfg.RunInterval,
		BatchSize:  cfg.BatchSize,
		Candidates: runRec.Candidates,
		Handle:     runRec.Handle,
	})
	d.Register(&scheduler.Task{
		Name:       "fleet",
		Interval:   cfg.FleetInterval,
		BatchSize:  cfg.BatchSize,
		Candidates: fleetRec.Candidates,
		Handle:     fleetRec.Handle,
	})
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

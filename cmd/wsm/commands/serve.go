package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openwsm/openwsm/pkg/cloud"
	"github.com/openwsm/openwsm/pkg/cloud/cloudtest"
	"github.com/openwsm/openwsm/pkg/config"
	"github.com/openwsm/openwsm/pkg/flight"
	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/server"
	"github.com/openwsm/openwsm/pkg/stores"
	"github.com/openwsm/openwsm/pkg/telemetry"
	"github.com/openwsm/openwsm/pkg/workspace"
)

func newServeCommand() *cobra.Command {
	var cloudBackend string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workspace resource manager daemon",
		Long: `Run the daemon: the HTTP API, the flight worker pool and the
recovery scan that resumes flights interrupted by a crash.

On startup the daemon connects to the configured database, optionally
applies schema migrations, registers the resource flight classes and
begins serving.`,
		Example: `  # Run with the default SQLite database
  wsm serve

  # Run against PostgreSQL with a config file
  wsm serve --config /etc/wsm/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cloudBackend)
		},
	}

	cmd.Flags().StringVar(&cloudBackend, "cloud-backend", "dev",
		"cloud backend (dev uses the in-memory simulator)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, cloudBackend string) error {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Tracer.Shutdown(context.Background()) }()
	defer tel.Events.Close()

	store, err := stores.NewSQLStore(cfg.Database.Driver, cfg.Database.DSN, tel)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if cfg.Database.MigrateOnStart {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	cloudSvc, err := newCloudService(cloudBackend)
	if err != nil {
		return err
	}

	registry := flight.NewRegistry()
	workspace.RegisterFlights(registry, workspace.Deps{
		Store: store,
		Cloud: cloudSvc,
		Rule:  resource.StateRule(cfg.Orchestrator.StateRule),
	})

	runner := flight.NewRunner(store, tel)
	scheduler := flight.NewScheduler(store, registry, runner, tel, cfg.Scheduler.Workers)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	svc, err := workspace.NewService(store, cloudSvc, scheduler,
		resource.StateRule(cfg.Orchestrator.StateRule), tel)
	if err != nil {
		return err
	}

	if tel.Metrics.Enabled() {
		go func() {
			if err := tel.Metrics.Serve(); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
		go refreshMetrics(ctx, svc)
	}

	api := server.New(cfg.Server.ListenAddress, svc, store, tel)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()
	return api.Serve()
}

// newCloudService selects the cloud backend. Real provider SDK adapters
// register here; dev is the in-memory simulator.
func newCloudService(backend string) (cloud.Service, error) {
	switch backend {
	case "dev":
		return cloudtest.NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown cloud backend %q", backend)
	}
}

// refreshMetrics keeps the resources-by-state gauge current.
func refreshMetrics(ctx context.Context, svc *workspace.Service) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.RefreshResourceMetrics(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to refresh resource metrics")
			}
		}
	}
}

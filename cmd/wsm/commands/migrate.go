package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openwsm/openwsm/pkg/config"
	"github.com/openwsm/openwsm/pkg/stores"
	"github.com/openwsm/openwsm/pkg/telemetry"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending schema migrations to the configured database and exit.

Use this when migrate_on_start is disabled and migrations are applied as
a separate deployment step.`,
		Example: `  # Migrate the default SQLite database
  wsm migrate

  # Migrate PostgreSQL
  WSM_DATABASE_DRIVER=pgx WSM_DATABASE_DSN=postgres://... wsm migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
			if err != nil {
				return err
			}

			store, err := stores.NewSQLStore(cfg.Database.Driver, cfg.Database.DSN, tel)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Database.Driver).Msg("Migrations applied")
			return nil
		},
	}
	return cmd
}

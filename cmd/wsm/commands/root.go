package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wsm",
		Short: "OpenWSM - Workspace Resource Manager",
		Long: `OpenWSM manages the lifecycle of cloud resources inside workspaces.

Controlled resources are provisioned and torn down through durable,
compensating flights: every step is checkpointed, failures undo the
completed prefix in reverse, and a restarted node resumes exactly where
the last checkpoint left off.

Features:
  - Durable saga-style flights with per-step retry policies
  - Resource lifecycle state machine with a busy gate
  - Controlled and referenced resources across GCP and Azure
  - SQLite for solo deployments, PostgreSQL for multi-node
  - Prometheus metrics and OpenTelemetry tracing`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newResourcesCommand())
	rootCmd.AddCommand(newFlightsCommand())

	return rootCmd
}

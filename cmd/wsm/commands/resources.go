package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openwsm/openwsm/pkg/config"
	"github.com/openwsm/openwsm/pkg/resource"
	"github.com/openwsm/openwsm/pkg/stores"
	"github.com/openwsm/openwsm/pkg/telemetry"
)

func newResourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Inspect workspace resources",
		Long:  `Inspect the resources stored in the metadata database.`,
	}
	cmd.AddCommand(newResourcesListCommand())
	cmd.AddCommand(newResourcesTypesCommand())
	return cmd
}

func newResourcesListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list <workspace-id>",
		Short: "List resources in a workspace",
		Example: `  # List the first page of a workspace's resources
  wsm resources list 3b2f7e58-1f4e-4bb8-9a3e-5f2fd0c55a0f

  # Page through a larger workspace
  wsm resources list 3b2f7e58-1f4e-4bb8-9a3e-5f2fd0c55a0f --limit 50 --offset 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid workspace id: %w", err)
			}

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

			list, err := store.ListResources(ctx, workspaceID, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := make([]json.RawMessage, 0, len(list))
				for _, r := range list {
					encoded, err := resource.Marshal(r)
					if err != nil {
						return err
					}
					out = append(out, encoded)
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tSTATE\tRESOURCE ID\tFLIGHT")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.Name, r.Type, r.State, r.ResourceID, r.FlightID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum resources to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of resources to skip")

	return cmd
}

func newResourcesTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the registered resource types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tSTEWARDSHIP\tPLATFORM\tFAMILY\tCLONEABLE")
			for _, t := range resource.Types() {
				d, err := resource.Lookup(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
					d.Type, d.Stewardship, d.CloudPlatform, d.Family, d.Cloneable)
			}
			return w.Flush()
		},
	}
}

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openwsm/openwsm/pkg/config"
	"github.com/openwsm/openwsm/pkg/stores"
	"github.com/openwsm/openwsm/pkg/telemetry"
)

func newFlightsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flights",
		Short: "Inspect flight execution state",
		Long: `Inspect durable flight state: the record the scheduler resumes
from and the step-by-step checkpoint log.`,
	}
	cmd.AddCommand(newFlightsShowCommand())
	return cmd
}

func newFlightsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <flight-id>",
		Short: "Show a flight's record and checkpoint log",
		Args:  cobra.ExactArgs(1),
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

			rec, err := store.GetFlight(ctx, args[0])
			if err != nil {
				return err
			}
			entries, err := store.GetFlightLog(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"flight": rec,
					"log":    entries,
				})
			}

			fmt.Printf("Flight:  %s\n", rec.ID)
			fmt.Printf("Class:   %s\n", rec.Class)
			fmt.Printf("Status:  %s\n", rec.Status)
			fmt.Printf("Cursor:  %d\n", rec.StepCursor)
			if rec.Cause != "" {
				fmt.Printf("Cause:   %s\n", rec.Cause)
			}
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tNAME\tDIRECTION\tSTATUS\tERROR\tAT")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.StepIndex, e.StepName, e.Direction, e.Status, e.Error,
					e.LoggedAt.Format("15:04:05.000"))
			}
			return w.Flush()
		},
	}
	return cmd
}

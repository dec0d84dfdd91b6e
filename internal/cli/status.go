package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/streetbite/lakepipe/internal/config"
	"github.com/streetbite/lakepipe/internal/watermark"
	"github.com/streetbite/lakepipe/pkg/database"
)

type statusReport struct {
	WatermarkName string `json:"watermark_name"`
	Watermark     string `json:"watermark,omitempty"`
	Cutoff        string `json:"cutoff"`
	FirstRun      bool   `json:"first_run"`
}

// newStatusCmd reports the stored watermark without touching the object
// store, so it stays usable when only the relational side is reachable.
func newStatusCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(opts.ConfigFile)
			if err != nil {
				return err
			}

			pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := watermark.NewPostgresStore(pool, settings.Pipeline.WatermarkName)
			report := statusReport{
				WatermarkName: settings.Pipeline.WatermarkName,
				Cutoff:        settings.Pipeline.HistoricalCutoff,
			}

			switch mark, err := store.Read(ctx); {
			case err == nil:
				report.Watermark = watermark.Format(mark)
			case errors.Is(err, watermark.ErrNotFound):
				report.FirstRun = true
			default:
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if report.FirstRun {
				fmt.Printf("Watermark %q: none (first run will start from %s).\n", report.WatermarkName, report.Cutoff)
			} else {
				fmt.Printf("Watermark %q: %s\n", report.WatermarkName, report.Watermark)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")

	return cmd
}

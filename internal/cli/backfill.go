package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streetbite/lakepipe/internal/watermark"
	"github.com/streetbite/lakepipe/pkg/logger"
	"github.com/streetbite/lakepipe/pkg/utils"
)

func newBackfillCmd(opts *globalOptions) *cobra.Command {
	var from string
	var force bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Seed history from a given lower bound before incremental runs begin",
		Long: `backfill performs one run with the historical cutoff overridden by --from.
It refuses to run when a watermark already exists, because the incremental
pipeline owns that window; --force runs incrementally from the stored mark
instead. The conditional watermark advance protects against a concurrent
incremental run either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cutoff, err := utils.ParseTimestamp(from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}

			app, err := buildApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			switch mark, err := app.store.Read(ctx); {
			case err == nil:
				if !force {
					return fmt.Errorf("watermark already exists (%s); refusing to backfill over it, use --force to run incrementally from the stored mark",
						watermark.Format(mark))
				}
				logger.Warnf("Watermark exists (%s), --force given: running incrementally from it.", watermark.Format(mark))
			case errors.Is(err, watermark.ErrNotFound):
				// Expected: this is exactly what backfill seeds.
			default:
				return err
			}

			res, err := app.newPipeline(cutoff).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Backfill %s completed: %d extracted, %d quarantined, %d written in %d files.\n",
				res.RunID, res.Extracted, res.Quarantined, res.Written, len(res.Files))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Historical lower bound, exclusive (YYYY-MM-DD[ HH:MM:SS] or RFC3339, UTC)")
	cmd.Flags().BoolVar(&force, "force", false, "Run even when a watermark exists, incrementally from the stored mark")
	cmd.MarkFlagRequired("from")

	return cmd
}

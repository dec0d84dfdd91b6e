package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/streetbite/lakepipe/internal/health"
	"github.com/streetbite/lakepipe/pkg/logger"
)

func newDaemonCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the pipeline on a fixed interval with health and metrics endpoints",
		Long: `daemon runs the pipeline immediately and then on the configured interval,
serving /healthz and /metrics in between. Runs are strictly sequential
in-process; overlap with runs from other processes is resolved by the
conditional watermark advance. SIGINT/SIGTERM lets the current run finish,
then exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			pipe := app.newPipeline(app.settings.Cutoff())

			srv := health.NewServer(app.settings.Daemon.ListenAddr, pipe, app.store)
			go func() {
				if err := srv.Start(); err != nil {
					logger.Errorf("Health server failed: %v", err)
				}
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			interval := app.settings.Daemon.Interval()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			logger.Infof("Daemon started, running every %s.", interval)

			if _, err := pipe.Run(ctx); err != nil {
				logger.Warnf("Run failed, next attempt in %s: %v", interval, err)
			}

			for {
				select {
				case <-ticker.C:
					if _, err := pipe.Run(ctx); err != nil {
						logger.Warnf("Run failed, next attempt in %s: %v", interval, err)
					}
				case <-shutdown:
					logger.Infof("Shutdown signal received, stopping daemon.")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Warnf("Health server shutdown: %v", err)
					}
					return nil
				}
			}
		},
	}
}

// Package cli wires the pipeline's commands using Cobra.
package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/streetbite/lakepipe/pkg/logger"
)

type globalOptions struct {
	ConfigFile string
	EnvFile    string
	LogLevel   string
	LogFormat  string
}

func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "lakepipe",
		Short: "Incremental extraction-and-load pipeline for the transaction data lake",
		Long: `lakepipe ingests point-of-sale transactions from the operational store and
lands them, validated and partitioned, in the data lake as parquet files.
A durable watermark tracks how much has been ingested, so each run pulls
only the delta since the last successful one.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(opts.LogLevel, opts.LogFormat); err != nil {
				return err
			}
			if opts.EnvFile != "" {
				if err := godotenv.Load(opts.EnvFile); err != nil {
					return fmt.Errorf("failed to load env file '%s': %w", opts.EnvFile, err)
				}
				return nil
			}
			if err := godotenv.Load(); err != nil {
				logger.Debugf("No .env file found, using system environment variables")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to the YAML tuning file (built-in defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "Path to a .env file with connection settings")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "json", "Log format: json or console")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newDaemonCmd(opts))
	rootCmd.AddCommand(newBackfillCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))

	return rootCmd
}

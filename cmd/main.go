package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"taskhub/internal/config"
	"taskhub/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskhub",
		Short: "Task API with a document store and an offline fallback",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return err
			}
			logger.Setup(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newIndexesCommand())
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		logger.Error(context.Background(), "Command failed", "error", err)
		os.Exit(1)
	}
}

// mustConfig returns the config loaded by the root command's pre-run hook.
func mustConfig() *config.Config {
	cfg, err := config.Get()
	if err != nil {
		logger.Error(context.Background(), "Invalid configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

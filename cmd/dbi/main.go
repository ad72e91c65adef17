package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mir00r/subscriber-dbi/internal/config"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

const version = "1.0.0"

// newRootCmd builds the command tree. A fresh tree per call keeps flag state
// out of package globals.
func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "dbi",
		Short: "Subscriber data access layer",
		Long: `dbi serves subscriber data from a selectable backend.

The json backend resolves session QoS from per-APN profile documents.
The redis backend stores complete subscriber documents.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (default dbi.yaml, or DBI_CONFIG_FILE)")

	loadConfig := func() (*config.Config, error) {
		if configFile == "" {
			return config.LoadConfig()
		}
		return config.Load(configFile)
	}

	root.AddCommand(
		newServeCmd(loadConfig),
		newValidateCmd(),
		newResolveCmd(),
		newTokenCmd(loadConfig),
		newSubscriberCmd(loadConfig),
	)
	return root
}

func newLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
		File:   cfg.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Package commands provides the policygraph CLI: intake, pipeline
// execution, and retrieval against the document store.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/strataline/policygraph/config"
	"github.com/strataline/policygraph/workflow"
)

// Runtime carries the loaded configuration and logger into subcommands.
// It is populated by the root command's PersistentPreRunE.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *workflow.Registry
}

// NewRoot builds the policygraph root command. The registry must already
// hold every pipeline stage factory.
func NewRoot(version string, registry *workflow.Registry) *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	rt := &Runtime{Registry: registry}

	cmd := &cobra.Command{
		Use:   "policygraph",
		Short: "Insurance document understanding pipeline",
		Long: `Policygraph turns OCR'd insurance submissions into a queryable
knowledge store.

Dropped document bundles move through a staged pipeline (processing,
classification, extraction, enrichment, indexing) into Postgres, with
optional projections into Neo4j and NATS. The query command answers
questions over the result with page-anchored citations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Version and help need no configuration.
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			cfg, err := loadConfig(configPath, logLevel)
			if err != nil {
				return err
			}
			rt.Config = cfg
			rt.Logger = cfg.Logging.NewLogger()
			slog.SetDefault(rt.Logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCommand(rt),
		newIngestCommand(rt),
		newRunCommand(rt),
		newServeCommand(rt),
		newQueryCommand(rt),
		newStatusCommand(rt),
		newExportCommand(rt),
		newReportCommand(rt),
		newEventsCommand(rt),
		newVersionCommand(version),
	)

	return cmd
}

// loadConfig resolves the effective configuration: an explicit file when
// given, the layered defaults otherwise, with the log level flag on top.
func loadConfig(configPath, logLevel string) (*config.Config, error) {
	loader := config.NewLoader(slog.Default())

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = loader.LoadFile(configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string, registry *workflow.Registry) {
	if err := NewRoot(version, registry).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

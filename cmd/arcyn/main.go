// Arcyn runs goals through a seven-stage agent pipeline: classify, plan,
// build, validate, integrate, store and review.
//
// Usage:
//
//	# Run a goal once and print the stage table
//	arcyn run "Build a REST API for todo items"
//
//	# Serve the HTTP API
//	arcyn serve --port 8080
//
//	# Configure via file or environment
//	ARCYN_PROVIDER_API_KEY=sk-... ARCYN_PIPELINE_AGENTS=true arcyn run "..."
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/arcyn/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML config file; a missing file means defaults.
	configPath string
	// jsonOutput prints machine-readable JSON instead of tables.
	jsonOutput bool
	// logLevel overrides logging.level.
	logLevel string

	cfg *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "arcyn",
		Short: "Run goals through the arcyn agent pipeline",
		Long: `arcyn classifies a goal, plans it, builds it, validates and integrates
the result, stores it in memory and reviews it. Stages without an agent
run a deterministic fallback, so arcyn works without provider credentials.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "arcyn.yaml", "config file")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	switch {
	case logLevel != "":
		loaded.Logging.Level = logLevel
	case cmd.Name() != "serve":
		// One-shot commands print results; keep routine logs out of the way.
		loaded.Logging.Level = "warn"
	}
	cfg = loaded
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version":    version,
					"commit":     gitCommit,
					"build_date": buildDate,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "arcyn by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
			return nil
		},
	}
}

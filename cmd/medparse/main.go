// Package main provides the medparse CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medparse/medparse/internal/config"
	"github.com/medparse/medparse/internal/observability"
	"github.com/medparse/medparse/internal/pipeline"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

// Flags shared by every command.
var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medparse",
	Short: "Reconcile, harden and deduplicate extracted paper records",
	Long: `medparse reconciles per-paper JSON records produced by an extraction
stage into canonical records.

Stages:
  audit     Score records and report quality issues (read-only)
  merge     Fill fields from CSL-JSON/CSV libraries and manual overrides
  harden    Repair fields offline (titles, years, authors, DOIs, journals, abstracts)
  enrich    Fill missing fields from Crossref
  dedupe    Collapse records sharing a DOI or title+year
  pipeline  Run every stage in order

Every field change is logged as a patch with its source and confidence.
Commands print JSON to stdout by default; logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./medparse.yaml or $XDG_CONFIG_HOME/medparse/medparse.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write run metrics in Prometheus textfile format")
	rootCmd.Version = Version
}

// mustLoadConfig loads configuration and applies the logging flags, exits on error.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg
}

// newRun builds the run context for one command.
func newRun(cfg *config.Config) *pipeline.Run {
	return pipeline.NewRun(cfg, observability.NewLogger(cfg.Logging))
}

// finishRun writes the metrics file and releases the run's resources.
func finishRun(run *pipeline.Run) {
	if err := run.Metrics.WriteTextfile(metricsFile); err != nil {
		run.Logger.Warn().Err(err).Msg("metrics not written")
	}
	if err := run.Close(); err != nil {
		run.Logger.Warn().Err(err).Msg("closing lookup cache")
	}
}

// signalContext is canceled on SIGINT or SIGTERM so in-flight records finish
// and no partial record is written.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

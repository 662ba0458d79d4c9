package main

import (
	"github.com/spf13/cobra"

	"github.com/medparse/medparse/internal/pipeline"
)

var (
	pipelineIn      string
	pipelineWork    string
	pipelineOffline bool
	pipelineStrict  bool
)

func init() {
	pipelineCmd.Flags().StringVar(&pipelineIn, "in", "out/batch_processed", "Input directory of extracted record JSON files")
	pipelineCmd.Flags().StringVar(&pipelineWork, "work", "out", "Work directory for stage outputs and reports")
	pipelineCmd.Flags().BoolVar(&pipelineOffline, "offline", false, "Skip online enrichment")
	pipelineCmd.Flags().BoolVar(&pipelineStrict, "strict", false, "Fail on strict merge limits")
	rootCmd.AddCommand(pipelineCmd)
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run every stage in order",
	Long: `Run audit, merge, harden, enrich, dedupe and a final audit.

Layout under --work:
  reports/baseline  baseline audit
  merged            merge output (copied through without sources)
  hardened          hardener output
  enriched          enrichment output (absent with --offline)
  deduped           survivors
  reports/final     final audit
  reports/<stage>   per-stage reports and pipeline_summary.json

A missing stage input stops the run; failures of individual records do not.

Examples:
  medparse pipeline --in out/batch_processed --work out
  medparse pipeline --offline --human`,
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if !pipelineOffline {
		if err := cfg.RequireEmail(); err != nil {
			exitWithError(ExitConfigError, "%v (or pass --offline)", err)
		}
	}

	run := newRun(cfg)
	ctx, stop := signalContext()
	defer stop()

	s, err := run.Pipeline(ctx, pipelineIn, pipelineWork, pipeline.Options{
		Offline: pipelineOffline,
		Strict:  pipelineStrict,
	})
	finishRun(run)
	exitOnStageError(err)

	if humanOutput {
		outputHuman("Run %s\n", s.RunID)
		outputHuman("  baseline: %d records, mean score %.2f, pass rate %.2f\n",
			s.Baseline.Total, s.Baseline.ScoreMean, s.Baseline.PassRate)
		if s.Merge.Skipped {
			outputHuman("  merge:    skipped (no sources)\n")
		} else {
			outputHuman("  merge:    %d matched, %d unmatched\n", s.Merge.MatchedTotal(), s.Merge.Unmatched)
		}
		outputHuman("  harden:   %d changed, %d patches\n", s.Harden.Changed, s.Harden.Patches)
		if s.Enrich != nil {
			outputHuman("  enrich:   %d patches, %d cache hits\n", s.Enrich.Patches, s.Enrich.CacheHits)
		} else {
			outputHuman("  enrich:   skipped (offline)\n")
		}
		outputHuman("  dedupe:   %d removed\n", s.Dedupe.Removed)
		outputHuman("  final:    %d records, mean score %.2f, pass rate %.2f\n",
			s.Final.Total, s.Final.ScoreMean, s.Final.PassRate)
		for _, g := range s.Gates {
			outputHuman("  gate failed: %s\n", g)
		}
	} else {
		outputJSON(s)
	}

	if len(s.Gates) > 0 {
		exitWithError(ExitGateFailed, "%d quality gates failed", len(s.Gates))
	}
	return nil
}

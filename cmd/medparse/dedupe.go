package main

import (
	"github.com/spf13/cobra"
)

var (
	dedupeDirs  dirFlags
	dedupeApply bool
)

func init() {
	addDirFlags(dedupeCmd, &dedupeDirs, "out/enriched", "out/deduped", "out/reports/dedupe")
	dedupeCmd.Flags().BoolVar(&dedupeApply, "apply", false, "Write survivors to --out (default: report only)")
	rootCmd.AddCommand(dedupeCmd)
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Collapse records sharing a bibliographic identity",
	Long: `Cluster records by normalized DOI, falling back to title + year for
records without one, and keep one survivor per cluster: the higher
completeness score, then more populated fields, then the earlier file name.

Every removal is listed in duplicates_removed.csv and dedupe_report.json.
Records are only written with --apply; the input is never modified.

Examples:
  medparse dedupe                 # Report duplicates only
  medparse dedupe --apply --human # Write survivors to out/deduped`,
	RunE: runDedupe,
}

func runDedupe(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	run := newRun(cfg)
	ctx, stop := signalContext()
	defer stop()

	rep, err := run.Dedupe(ctx, dedupeDirs.dirs(), dedupeApply)
	finishRun(run)
	exitOnStageError(err)

	if humanOutput {
		if rep.Removed == 0 {
			outputHuman("No duplicates found among %d records.\n", rep.Total)
			return nil
		}
		for _, rm := range rep.Removals {
			outputHuman("%s -> %s (%s; %s)\n", rm.Removed, rm.Survivor, rm.Key, rm.Reason)
		}
		verb := "Would remove"
		if rep.Applied {
			verb = "Removed"
		}
		outputHuman("%s %d of %d records in %d clusters\n", verb, rep.Removed, rep.Total, rep.Clusters)
	} else {
		outputJSON(rep)
	}
	return nil
}

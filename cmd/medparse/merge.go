package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/medparse/medparse/internal/merge"
	"github.com/medparse/medparse/internal/pipeline"
)

var (
	mergeDirs      dirFlags
	mergeDryRun    bool
	mergeStrict    bool
	mergeCSL       []string
	mergeCSV       []string
	mergeOverrides string
)

func init() {
	addDirFlags(mergeCmd, &mergeDirs, "out/batch_processed", "out/merged", "out/reports/merge")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Report what would change without writing records")
	mergeCmd.Flags().BoolVar(&mergeStrict, "strict", false, "Fail when the unmatched share exceeds merge.strict_max_unmatched or any DOI conflicts")
	mergeCmd.Flags().StringSliceVar(&mergeCSL, "csl", nil, "CSL-JSON library export (repeatable, added to merge.csl)")
	mergeCmd.Flags().StringSliceVar(&mergeCSV, "csv", nil, "CSV index (repeatable, added to merge.csv)")
	mergeCmd.Flags().StringVar(&mergeOverrides, "overrides", "", "Manual override JSON file (replaces merge.overrides)")
	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Fill record fields from external libraries and manual overrides",
	Long: `Match each record against CSL-JSON and CSV libraries (DOI, exact title,
fuzzy title, then first author + year) and merge the matched entry's fields.
Manual overrides are applied last and always win.

With no sources configured the records are copied through unchanged.

Examples:
  medparse merge --csl library.json --overrides overrides.json
  medparse merge --csv index.csv --dry-run --human
  medparse merge --strict`,
	RunE: runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	cfg.Merge.CSL = append(cfg.Merge.CSL, mergeCSL...)
	cfg.Merge.CSV = append(cfg.Merge.CSV, mergeCSV...)
	if mergeOverrides != "" {
		cfg.Merge.Overrides = mergeOverrides
	}

	run := newRun(cfg)
	ctx, stop := signalContext()
	defer stop()

	res, err := run.Merge(ctx, mergeDirs.dirs(), pipeline.MergeOptions{DryRun: mergeDryRun, Strict: mergeStrict})
	finishRun(run)
	if err != nil && len(res.Violations) > 0 {
		outputJSON(res)
	}
	exitOnStageError(err)

	if humanOutput {
		if res.Skipped {
			outputHuman("No sources configured; %d records copied through%s\n", res.Total, dryRunLabel(res.DryRun))
			return nil
		}
		outputHuman("Merged %d records%s\n", res.Total, dryRunLabel(res.DryRun))
		for _, method := range matchedMethods(res.Matched) {
			outputHuman("  %-12s %d\n", method, res.Matched[method])
		}
		outputHuman("  unmatched:    %d\n", res.Unmatched)
		outputHuman("  overrides:    %d\n", res.OverridesApplied)
		outputHuman("  DOI conflicts: %d\n", res.DOIConflicts)
		outputHuman("  malformed:    %d\n", res.Malformed)
		outputHuman("  patches:      %d\n", res.Patches)
	} else {
		outputJSON(res)
	}
	return nil
}

// matchedMethods returns the methods in matched in cascade order, followed by
// any others sorted by name.
func matchedMethods(matched map[string]int) []string {
	out := make([]string, 0, len(matched))
	seen := make(map[string]bool, len(merge.Methods))
	for _, m := range merge.Methods {
		seen[m] = true
		if _, ok := matched[m]; ok {
			out = append(out, m)
		}
	}
	var rest []string
	for m := range matched {
		if !seen[m] {
			rest = append(rest, m)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

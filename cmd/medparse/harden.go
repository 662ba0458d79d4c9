package main

import (
	"sort"

	"github.com/spf13/cobra"
)

var (
	hardenDirs   dirFlags
	hardenDryRun bool
)

func init() {
	addDirFlags(hardenCmd, &hardenDirs, "out/merged", "out/hardened", "out/reports/harden")
	hardenCmd.Flags().BoolVar(&hardenDryRun, "dry-run", false, "Report repairs without writing records")
	rootCmd.AddCommand(hardenCmd)
}

var hardenCmd = &cobra.Command{
	Use:   "harden",
	Short: "Repair record fields offline",
	Long: `Apply deterministic offline repairs in a fixed order: title from the
file name, canonical year, author cleanup, DOI recovery (cleaning, front
matter, source PDF), journal canonicalization and abstract backfill.

Running harden twice produces no further changes.

Examples:
  medparse harden --in out/merged --out out/hardened
  medparse harden --dry-run --human`,
	RunE: runHarden,
}

func runHarden(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	run := newRun(cfg)
	ctx, stop := signalContext()
	defer stop()

	s, err := run.Harden(ctx, hardenDirs.dirs(), hardenDryRun)
	finishRun(run)
	exitOnStageError(err)

	if humanOutput {
		outputHuman("Hardened %d records%s: %d changed, %d unchanged, %d failed, %d patches\n",
			s.Total, dryRunLabel(s.DryRun), s.Changed, s.Unchanged, s.Failed, s.Patches)
		actions := make([]string, 0, len(s.Actions))
		for a := range s.Actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			outputHuman("  %-32s %d\n", a, s.Actions[a])
		}
	} else {
		outputJSON(s)
	}
	return nil
}

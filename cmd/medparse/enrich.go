package main

import (
	"sort"

	"github.com/spf13/cobra"
)

var (
	enrichDirs   dirFlags
	enrichDryRun bool
	enrichEmail  string
)

func init() {
	addDirFlags(enrichCmd, &enrichDirs, "out/hardened", "out/enriched", "out/reports/enrich")
	enrichCmd.Flags().BoolVar(&enrichDryRun, "dry-run", false, "Look up records without writing them")
	enrichCmd.Flags().StringVar(&enrichEmail, "email", "", "Contact email sent to Crossref (overrides enrich.email)")
	rootCmd.AddCommand(enrichCmd)
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fill missing fields from Crossref",
	Long: `Look up each record by title, first author and year and fill only the
fields it lacks (DOI, journal, volume, issue, pages, ISSN, URL, year) from
the best candidate, when that candidate clears the similarity threshold.

A contact email is required (enrich.email, MEDPARSE_ENRICH_EMAIL or
CROSSREF_EMAIL). Transient failures are retried with exponential backoff;
definite answers are cached (cache.backend: memory, sqlite or redis).

Examples:
  medparse enrich --email ops@example.org
  medparse enrich --dry-run --human`,
	RunE: runEnrich,
}

func runEnrich(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if enrichEmail != "" {
		cfg.Enrich.Email = enrichEmail
	}
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	run := newRun(cfg)
	ctx, stop := signalContext()
	defer stop()

	s, err := run.Enrich(ctx, enrichDirs.dirs(), enrichDryRun)
	finishRun(run)
	exitOnStageError(err)

	if humanOutput {
		outputHuman("Enriched %d records%s: %d patches, %d lookups, %d cache hits\n",
			s.Total, dryRunLabel(s.DryRun), s.Patches, s.Lookups, s.CacheHits)
		statuses := make([]string, 0, len(s.Statuses))
		for st := range s.Statuses {
			statuses = append(statuses, st)
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			outputHuman("  %-20s %d\n", st, s.Statuses[st])
		}
	} else {
		outputJSON(s)
	}
	return nil
}

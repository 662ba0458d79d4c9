package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/medparse/medparse/internal/audit"
)

var (
	auditDirs  dirFlags
	auditGates bool
)

func init() {
	addDirFlags(auditCmd, &auditDirs, "out/batch_processed", "", "out/reports/audit")
	auditCmd.Flags().BoolVar(&auditGates, "gates", true, "Apply the configured quality gates")
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Score records and report quality issues",
	Long: `Score every record against weighted completeness checks and report
issue codes. Records are never modified.

Reports written to --report:
  quality_summary.json  counts, percentages, score statistics, tiers
  quality_issues.csv    file, score, tier, issues, error
  quality_files.json    per-file detail

With gates configured (gates.* in medparse.yaml), a violated gate exits 4.

Examples:
  medparse audit --in out/batch_processed
  medparse audit --in out/hardened --report out/reports/final --human`,
	RunE: runAudit,
}

// AuditResponse is the JSON output of audit.
type AuditResponse struct {
	Summary audit.Summary       `json:"summary"`
	Gates   []audit.GateFailure `json:"gate_failures,omitempty"`
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	run := newRun(cfg)
	ctx, stop := signalContext()
	defer stop()

	rep, err := run.Audit(ctx, auditDirs.in, auditDirs.report)
	finishRun(run)
	exitOnStageError(err)

	resp := AuditResponse{Summary: rep.Summary}
	if auditGates {
		resp.Gates = audit.CheckGates(rep.Summary, cfg.Gates)
	}

	if humanOutput {
		s := rep.Summary
		outputHuman("Audited %d files (%d malformed)\n", s.Total, s.Malformed)
		outputHuman("  passed: %d  failed: %d  pass rate: %.2f\n", s.Passed, s.Failed, s.PassRate)
		outputHuman("  score: mean %.2f, min %d, max %d\n", s.ScoreMean, s.ScoreMin, s.ScoreMax)
		outputHuman("  tiers: excellent %d, good %d, fair %d, poor %d\n",
			s.Tiers[audit.TierExcellent], s.Tiers[audit.TierGood], s.Tiers[audit.TierFair], s.Tiers[audit.TierPoor])
		for _, g := range resp.Gates {
			outputHuman("  gate failed: %s\n", g)
		}
	} else {
		outputJSON(resp)
	}

	if len(resp.Gates) > 0 {
		failed := make([]string, len(resp.Gates))
		for i, g := range resp.Gates {
			failed[i] = g.String()
		}
		exitWithError(ExitGateFailed, "quality gates failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

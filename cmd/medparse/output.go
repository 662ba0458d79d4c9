package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medparse/medparse/internal/config"
	"github.com/medparse/medparse/internal/pipeline"
	"github.com/medparse/medparse/internal/storage"
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// exitCode maps a stage error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, config.ErrInvalid), errors.Is(err, pipeline.ErrSources):
		return ExitConfigError
	case errors.Is(err, storage.ErrInputDirMissing):
		return ExitDataError
	case errors.Is(err, pipeline.ErrStrict):
		return ExitGateFailed
	}
	return ExitError
}

// exitOnStageError exits with the mapped code when err is non-nil.
func exitOnStageError(err error) {
	if err != nil {
		exitWithError(exitCode(err), "%v", err)
	}
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// dirFlags are the directory flags of a stage command.
type dirFlags struct {
	in     string
	out    string
	report string
}

// addDirFlags registers --in, --out and --report with stage defaults. An
// empty default omits the flag.
func addDirFlags(cmd *cobra.Command, d *dirFlags, in, out, report string) {
	cmd.Flags().StringVar(&d.in, "in", in, "Input directory of record JSON files")
	if out != "" {
		cmd.Flags().StringVar(&d.out, "out", out, "Output directory for processed records")
	}
	cmd.Flags().StringVar(&d.report, "report", report, "Directory for report artifacts")
}

func (d dirFlags) dirs() pipeline.Dirs {
	return pipeline.Dirs{In: d.in, Out: d.out, Report: d.report}
}

// dryRunLabel renders a dry-run marker for human output.
func dryRunLabel(dryRun bool) string {
	if dryRun {
		return " (dry run)"
	}
	return ""
}

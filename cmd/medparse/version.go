package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if humanOutput {
			outputHuman("medparse %s (%s)\n", Version, runtime.Version())
			return
		}
		outputJSON(map[string]string{"version": Version, "go": runtime.Version()})
	},
}

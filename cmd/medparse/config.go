package main

import (
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after defaults, medparse.yaml, .env and
MEDPARSE_* environment variables are applied. Credentials in the Redis URL
are redacted.

Examples:
  medparse config show
  medparse config show --config ./medparse.yaml --human`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if cfg.Cache.RedisURL != "" {
		if u, err := url.Parse(cfg.Cache.RedisURL); err == nil {
			cfg.Cache.RedisURL = u.Redacted()
		}
	}

	if humanOutput {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			exitWithError(ExitError, "encoding config: %v", err)
		}
		outputHuman("%s", out)
		return nil
	}
	outputJSON(cfg)
	return nil
}

// Package config loads pipeline configuration from defaults, an optional
// YAML file, MEDPARSE_* environment variables and a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/medparse/medparse/internal/observability"
)

const (
	// EnvPrefix prefixes every environment override, e.g. MEDPARSE_ENRICH_EMAIL.
	EnvPrefix = "MEDPARSE"

	// ConfigName is the config file base name searched for when --config is not given.
	ConfigName = "medparse"

	// ConfigDir is the directory name under XDG_CONFIG_HOME.
	ConfigDir = "medparse"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full pipeline configuration.
type Config struct {
	Logging observability.LoggingConfig `mapstructure:"logging"`

	// Workers bounds per-record concurrency for the CPU-bound stages.
	Workers int `mapstructure:"workers" validate:"gte=1"`

	// BaseConfidence is the confidence of extracted values no patch has touched.
	BaseConfidence float64 `mapstructure:"base_confidence" validate:"gte=0,lte=1"`

	Merge  MergeConfig  `mapstructure:"merge"`
	Harden HardenConfig `mapstructure:"harden"`
	Enrich EnrichConfig `mapstructure:"enrich"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Gates  GatesConfig  `mapstructure:"gates"`
}

// MergeConfig configures the external metadata merger.
type MergeConfig struct {
	CSL       []string `mapstructure:"csl"`       // CSL-JSON collections
	CSV       []string `mapstructure:"csv"`       // CSV indexes
	Overrides string   `mapstructure:"overrides"` // Manual override file

	FuzzyThreshold     float64 `mapstructure:"fuzzy_threshold" validate:"gt=0,lte=1"`
	StrictMaxUnmatched float64 `mapstructure:"strict_max_unmatched" validate:"gte=0,lte=1"`
}

// HardenConfig configures the offline hardener.
type HardenConfig struct {
	FrontMatterChars    int    `mapstructure:"front_matter_chars" validate:"gte=100"`
	MaxAbstractChars    int    `mapstructure:"max_abstract_chars" validate:"gte=100"`
	JournalSynonymsFile string `mapstructure:"journal_synonyms_file"`
	PDFRoot             string `mapstructure:"pdf_root"`
	PDFPages            int    `mapstructure:"pdf_pages" validate:"gte=1"`
}

// EnrichConfig configures online enrichment.
type EnrichConfig struct {
	// Email is sent with every request as required by the service's usage policy.
	Email   string `mapstructure:"email" validate:"omitempty,email"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	MinScore             float64 `mapstructure:"min_score" validate:"gt=0,lte=1.1"`
	MinCorroboratedScore float64 `mapstructure:"min_corroborated_score" validate:"gt=0,lte=1.1"`

	Concurrency int           `mapstructure:"concurrency" validate:"gte=1,lte=64"`
	RateLimit   float64       `mapstructure:"rate_limit" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig is the backoff policy for external lookups.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gte=0"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxDelay     time.Duration `mapstructure:"max_delay" validate:"gte=0"`
}

// CacheConfig selects the lookup cache backend.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend" validate:"oneof=none memory sqlite redis"`
	Path     string        `mapstructure:"path"`      // SQLite file
	RedisURL string        `mapstructure:"redis_url"` // redis://host:port/db
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// GatesConfig holds CI gate thresholds applied to audit summaries.
// Negative counts disable a gate.
type GatesConfig struct {
	MaxMissingTitle   int     `mapstructure:"max_missing_title"`
	MaxMissingAuthors int     `mapstructure:"max_missing_authors"`
	MaxMissingDOI     int     `mapstructure:"max_missing_doi"`
	MaxMalformed      int     `mapstructure:"max_malformed"`
	MinPassRate       float64 `mapstructure:"min_pass_rate" validate:"gte=0,lte=1"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("workers", 8)
	v.SetDefault("base_confidence", 0.5)

	v.SetDefault("merge.csl", []string{})
	v.SetDefault("merge.csv", []string{})
	v.SetDefault("merge.overrides", "")
	v.SetDefault("merge.fuzzy_threshold", 0.85)
	v.SetDefault("merge.strict_max_unmatched", 0.05)

	v.SetDefault("harden.front_matter_chars", 6000)
	v.SetDefault("harden.max_abstract_chars", 2000)
	v.SetDefault("harden.journal_synonyms_file", "")
	v.SetDefault("harden.pdf_root", "")
	v.SetDefault("harden.pdf_pages", 2)

	v.SetDefault("enrich.email", "")
	v.SetDefault("enrich.base_url", "https://api.crossref.org")
	v.SetDefault("enrich.min_score", 0.92)
	v.SetDefault("enrich.min_corroborated_score", 0.88)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.rate_limit", 5.0)
	v.SetDefault("enrich.timeout", "20s")
	v.SetDefault("enrich.retry.max_attempts", 4)
	v.SetDefault("enrich.retry.initial_delay", "1s")
	v.SetDefault("enrich.retry.multiplier", 2.0)
	v.SetDefault("enrich.retry.max_delay", "30s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "720h")

	v.SetDefault("gates.max_missing_title", -1)
	v.SetDefault("gates.max_missing_authors", -1)
	v.SetDefault("gates.max_missing_doi", -1)
	v.SetDefault("gates.max_malformed", -1)
	v.SetDefault("gates.min_pass_rate", 0.0)
}

// Load reads configuration. When path is empty, medparse.yaml is looked up
// in the working directory and under XDG_CONFIG_HOME; a missing file is fine.
// An explicit path must exist.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir := userConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// CROSSREF_EMAIL is honoured for compatibility with existing .env files.
	if cfg.Enrich.Email == "" {
		cfg.Enrich.Email = strings.TrimSpace(os.Getenv("CROSSREF_EMAIL"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Enrich.MinCorroboratedScore > c.Enrich.MinScore {
		return fmt.Errorf("%w: enrich.min_corroborated_score (%.2f) exceeds enrich.min_score (%.2f)",
			ErrInvalid, c.Enrich.MinCorroboratedScore, c.Enrich.MinScore)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("%w: cache.redis_url is required for the redis backend", ErrInvalid)
	}
	return nil
}

// RequireEmail reports a configuration error when no contact email is set.
func (c *Config) RequireEmail() error {
	if strings.TrimSpace(c.Enrich.Email) == "" {
		return fmt.Errorf("%w: enrich.email (or %s_ENRICH_EMAIL / CROSSREF_EMAIL) is required for online enrichment",
			ErrInvalid, EnvPrefix)
	}
	return nil
}

// userConfigDir returns $XDG_CONFIG_HOME/medparse, defaulting to ~/.config.
func userConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, ConfigDir)
}

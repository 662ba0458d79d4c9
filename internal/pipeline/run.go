// Package pipeline drives the batch stages over record directories.
package pipeline

import (
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medparse/medparse/internal/cache"
	"github.com/medparse/medparse/internal/config"
	"github.com/medparse/medparse/internal/observability"
)

// Stage names, used in logs, metrics and report directories.
const (
	StageAudit  = "audit"
	StageMerge  = "merge"
	StageHarden = "harden"
	StageEnrich = "enrich"
	StageDedupe = "dedupe"
)

// ErrSources indicates the configured external sources could not be loaded.
var ErrSources = errors.New("loading metadata sources")

// ErrStrict indicates a strict merge run exceeded its limits.
var ErrStrict = errors.New("strict merge limits exceeded")

// Run is the state shared by every stage of one invocation.
type Run struct {
	ID      string
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	HTTP    *http.Client

	cacheOnce sync.Once
	cache     cache.Cache
	cacheErr  error
}

// Option configures a Run.
type Option func(*Run)

// WithHTTPClient replaces the lookup HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Run) {
		r.HTTP = hc
	}
}

// WithCache sets the lookup cache instead of opening the configured one.
func WithCache(c cache.Cache) Option {
	return func(r *Run) {
		r.cacheOnce.Do(func() { r.cache = c })
	}
}

// NewRun creates a run with a fresh id and metrics registry. A nil cfg uses
// the defaults.
func NewRun(cfg *config.Config, logger zerolog.Logger, opts ...Option) *Run {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Run{
		ID:      uuid.NewString(),
		Config:  cfg,
		Metrics: observability.NewMetrics(),
		HTTP:    &http.Client{Timeout: cfg.Enrich.Timeout},
	}
	r.Logger = observability.WithRunContext(logger, r.ID)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache opens the configured lookup cache on first use.
func (r *Run) Cache() (cache.Cache, error) {
	r.cacheOnce.Do(func() {
		r.cache, r.cacheErr = cache.Open(r.Config.Cache)
	})
	return r.cache, r.cacheErr
}

// Close releases the lookup cache if one was opened.
func (r *Run) Close() error {
	r.cacheOnce.Do(func() {})
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func (r *Run) stageLogger(stage string) zerolog.Logger {
	return observability.WithStageContext(r.Logger, stage)
}

func (r *Run) workers() int {
	if r.Config.Workers < 1 {
		return 1
	}
	return r.Config.Workers
}

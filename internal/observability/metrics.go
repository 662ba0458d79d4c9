package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of one pipeline run. Each run owns its
// registry so repeated runs in one process do not share state.
type Metrics struct {
	Registry *prometheus.Registry

	// RecordsTotal counts records per stage and outcome status.
	RecordsTotal *prometheus.CounterVec

	// PatchesTotal counts applied patches per stage and source.
	PatchesTotal *prometheus.CounterVec

	// LookupRequests counts external lookups by typed outcome.
	LookupRequests *prometheus.CounterVec

	// LookupDuration observes external lookup latency in seconds.
	LookupDuration prometheus.Histogram

	// CacheResults counts lookup cache hits, misses and errors.
	CacheResults *prometheus.CounterVec
}

// NewMetrics creates and registers the run metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medparse",
			Name:      "records_total",
			Help:      "Records processed, by stage and status.",
		}, []string{"stage", "status"}),
		PatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medparse",
			Name:      "patches_total",
			Help:      "Field patches applied, by stage and source.",
		}, []string{"stage", "source"}),
		LookupRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medparse",
			Name:      "lookup_requests_total",
			Help:      "External bibliographic lookups, by outcome.",
		}, []string{"outcome"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medparse",
			Name:      "lookup_duration_seconds",
			Help:      "External lookup latency including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		CacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medparse",
			Name:      "cache_total",
			Help:      "Lookup cache results (hit, miss, error).",
		}, []string{"result"}),
	}
	reg.MustRegister(m.RecordsTotal, m.PatchesTotal, m.LookupRequests, m.LookupDuration, m.CacheResults)
	return m
}

// Record counts one record outcome. A nil receiver is a no-op.
func (m *Metrics) Record(stage, status string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(stage, status).Inc()
}

// Patch counts one applied patch.
func (m *Metrics) Patch(stage, source string) {
	if m == nil {
		return
	}
	m.PatchesTotal.WithLabelValues(stage, source).Inc()
}

// Lookup counts one external lookup and its latency.
func (m *Metrics) Lookup(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.LookupRequests.WithLabelValues(outcome).Inc()
	m.LookupDuration.Observe(seconds)
}

// Cache counts one cache access result.
func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.CacheResults.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

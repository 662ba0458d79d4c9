package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
	assert.Equal(t, zerolog.Disabled, parseLevel("off"))
}

func TestNewLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger = WithFileContext(WithStageContext(WithRunContext(logger, "run-1"), "harden"), "a.json")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"stage":"harden"`)
	assert.Contains(t, out, `"file":"a.json"`)
}

func TestMetrics_CountsAndTextfile(t *testing.T) {
	m := NewMetrics()
	m.Record("merge", "matched")
	m.Record("merge", "matched")
	m.Record("merge", "unmatched")
	m.Patch("merge", "merge:doi")
	m.Lookup("found", 0.2)
	m.Cache("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("merge", "matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheResults.WithLabelValues("hit")))

	path := filepath.Join(t.TempDir(), "medparse.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "medparse_records_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Record("audit", "ok")
	m.Patch("harden", "harden:doi")
	m.Lookup("found", 1)
	m.Cache("miss")
	assert.NoError(t, m.WriteTextfile("ignored"))
}

package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medparse/medparse/internal/config"
)

func TestKey(t *testing.T) {
	k := Key("works\x1fseptic shock\x1fangus\x1f2017")
	assert.Len(t, k, 64)
	assert.Equal(t, k, Key("works\x1fseptic shock\x1fangus\x1f2017"))
	assert.NotEqual(t, k, Key("works\x1fseptic shock\x1fangus\x1f2018"))
}

// exercise runs the shared contract against a backend whose clock can be
// advanced through advance.
func exercise(t *testing.T, c Cache, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", []byte(`{"status":"found"}`), time.Hour))
	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"status":"found"}`, string(got))

	// overwrite
	require.NoError(t, c.Set(ctx, "a", []byte(`{"status":"not_found"}`), time.Hour))
	got, _, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"not_found"}`, string(got))

	require.NoError(t, c.Set(ctx, "forever", []byte("x"), 0))

	advance(2 * time.Hour)
	_, ok, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "entry should have expired")

	_, ok, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	exercise(t, m, func(d time.Duration) { now = now.Add(d) })
	assert.Equal(t, 1, m.Len())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lookups.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	exercise(t, s, func(d time.Duration) { now = now.Add(d) })

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lookups.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))
}

func TestRedis(t *testing.T) {
	url := os.Getenv("MEDPARSE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MEDPARSE_TEST_REDIS_URL not set")
	}
	r, err := OpenRedis(url)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Ping(context.Background()))

	ctx := context.Background()
	key := Key(t.Name() + time.Now().String())
	require.NoError(t, r.Set(ctx, key, []byte("v"), time.Minute))
	got, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))
}

func TestOpen(t *testing.T) {
	c, err := Open(config.CacheConfig{Backend: BackendNone})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)

	c, err = Open(config.CacheConfig{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = Open(config.CacheConfig{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open(config.CacheConfig{Backend: BackendSQLite})
	assert.Error(t, err)

	_, err = Open(config.CacheConfig{Backend: BackendRedis, RedisURL: "not a url"})
	assert.Error(t, err)

	c, err = Open(config.CacheConfig{Backend: BackendRedis, RedisURL: "redis://localhost:6379/2"})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, c)
	require.NoError(t, c.Close())

	_, err = Open(config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}

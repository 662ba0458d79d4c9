// Package cache stores external lookup results keyed by a hash of the
// request signature.
package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/medparse/medparse/internal/config"
)

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Cache is a byte-value store with per-entry expiry. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key returns the hex BLAKE2b-256 digest of a request signature.
func Key(signature string) string {
	sum := blake2b.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:])
}

// Open builds the backend named in cfg.
func Open(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return Nop{}, nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("cache.path is required for the sqlite backend")
		}
		return OpenSQLite(cfg.Path)
	case BackendRedis:
		return OpenRedis(cfg.RedisURL)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Nop) Close() error { return nil }

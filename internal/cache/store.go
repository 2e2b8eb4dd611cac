// Package cache is the client-side key/value cache behind the notification
// views. Values are opaque bytes; typed access goes through the JSON
// helpers.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/insync/internal/model"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("cache: key not found")

// UpdateFunc computes the new value for a key from its current value.
// Returning a nil slice leaves the key untouched.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Store is a key/value cache. Update is an atomic read-modify-write of a
// single key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Open builds the Store selected by cfg.Backend.
func Open(cfg model.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "", model.CacheBackendMemory:
		return NewMemoryStore(), nil
	case model.CacheBackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case model.CacheBackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

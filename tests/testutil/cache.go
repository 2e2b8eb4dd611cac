package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/nhle/insync/internal/cache"
)

// NewSQLiteCache creates an in-memory SQLite cache with all migrations
// applied. It is closed when the test completes.
func NewSQLiteCache(t testing.TB) *cache.SQLiteStore {
	t.Helper()

	s, err := cache.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating sqlite cache: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing sqlite cache: %v", err)
		}
	})
	return s
}

// NewRedisCache starts a miniredis server and returns a cache on it.
func NewRedisCache(t testing.TB) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := cache.NewRedisStore(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("creating redis cache: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

// CacheBackends returns one fresh store per backend, keyed by name.
func CacheBackends(t testing.TB) map[string]cache.Store {
	t.Helper()
	rs, _ := NewRedisCache(t)
	return map[string]cache.Store{
		"memory": cache.NewMemoryStore(),
		"sqlite": NewSQLiteCache(t),
		"redis":  rs,
	}
}

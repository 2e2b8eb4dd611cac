package reconcile_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/insync/internal/api"
	"github.com/nhle/insync/internal/cache"
	"github.com/nhle/insync/internal/metrics"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/reconcile"
	"github.com/nhle/insync/tests/testutil"
)

func note(id string) model.Notification {
	return model.Notification{
		ID:            id,
		WorkspaceID:   "w1",
		WorkspaceName: "Core",
		TaskName:      "Task " + id,
		Message:       "message " + id,
		EventType:     model.EventTaskUpdated,
	}
}

func ids(ns []model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func setup(t *testing.T, store cache.Store, userID string) (*reconcile.Reconciler, *testutil.FakeAPI, *metrics.Collectors) {
	t.Helper()
	f := testutil.NewFakeAPI(t)
	tok := testutil.ValidToken(t, userID)
	client := api.NewClient(f.BaseURL(), func() string { return tok }, 0)
	m := metrics.New(prometheus.NewRegistry())
	return reconcile.New(store, client, m, zaptest.NewLogger(t)), f, m
}

func TestMerge_IsIdempotentAcrossBackends(t *testing.T) {
	for name, store := range testutil.CacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			r, _, m := setup(t, store, "u1")
			ctx := context.Background()

			assert.True(t, r.Merge(ctx, "u1", note("n1")))
			assert.False(t, r.Merge(ctx, "u1", note("n1")))
			assert.False(t, r.Merge(ctx, "u1", note("n1")))

			list, count := r.Cached(ctx, "u1")
			assert.Equal(t, []string{"n1"}, ids(list))
			assert.Equal(t, 1, count)
			assert.Equal(t, 2.0, promtest.ToFloat64(m.DuplicatesSkipped))
		})
	}
}

func TestMerge_PrependsNewestFirst(t *testing.T) {
	r, _, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, r.Merge(ctx, "u1", note(id)))
	}
	list, count := r.Cached(ctx, "u1")
	assert.Equal(t, []string{"c", "b", "a"}, ids(list))
	assert.Equal(t, 3, count)
}

func TestMerge_DefaultsWhenCacheEmpty(t *testing.T) {
	r, _, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()

	list, count := r.Cached(ctx, "u1")
	assert.Empty(t, list)
	assert.NotNil(t, list)
	assert.Zero(t, count)

	require.True(t, r.Merge(ctx, "u1", note("n1")))
	_, count = r.Cached(ctx, "u1")
	assert.Equal(t, 1, count)
}

func TestMerge_ScopedPerUser(t *testing.T) {
	r, _, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()

	require.True(t, r.Merge(ctx, "u1", note("n1")))
	require.True(t, r.Merge(ctx, "u2", note("n1")))

	list, count := r.Cached(ctx, "u2")
	assert.Equal(t, []string{"n1"}, ids(list))
	assert.Equal(t, 1, count)

	require.NoError(t, r.Clear(ctx, "u2"))
	list, _ = r.Cached(ctx, "u2")
	assert.Empty(t, list)
	list, _ = r.Cached(ctx, "u1")
	assert.Len(t, list, 1)
}

func TestMerge_ConcurrentDuplicatesInsertOnce(t *testing.T) {
	r, _, _ := setup(t, testutil.NewSQLiteCache(t), "u1")
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Merge(ctx, "u1", note("same")) {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	list, count := r.Cached(ctx, "u1")
	assert.Len(t, list, 1)
	assert.Equal(t, 1, count)
}

func TestMerge_InvalidatesDashboard(t *testing.T) {
	store := cache.NewMemoryStore()
	r, f, _ := setup(t, store, "u1")
	ctx := context.Background()
	f.SetSummary("u1", model.DashboardSummary{TaskCount: 4})

	_, err := r.DashboardSummary(ctx, "u1")
	require.NoError(t, err)
	_, err = store.Get(ctx, cache.Key("u1", cache.Dashboard))
	require.NoError(t, err)

	require.True(t, r.Merge(ctx, "u1", note("n1")))
	_, err = store.Get(ctx, cache.Key("u1", cache.Dashboard))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestEndToEndScenario(t *testing.T) {
	r, f, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()

	f.SetUnread("u1", note("n1"))
	list, count, err := r.RefreshUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, ids(list))
	assert.Equal(t, 1, count)

	// Push of n2.
	f.AddUnread("u1", note("n2"))
	require.True(t, r.Merge(ctx, "u1", note("n2")))
	list, count = r.Cached(ctx, "u1")
	assert.Equal(t, []string{"n2", "n1"}, ids(list))
	assert.Equal(t, 2, count)

	// The same push again changes nothing.
	require.False(t, r.Merge(ctx, "u1", note("n2")))
	list, count = r.Cached(ctx, "u1")
	assert.Equal(t, []string{"n2", "n1"}, ids(list))
	assert.Equal(t, 2, count)

	_, _, err = r.MarkRead(ctx, "u1", "n1")
	require.NoError(t, err)
	list, count = r.Cached(ctx, "u1")
	assert.Equal(t, []string{"n2"}, ids(list))
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"n1"}, f.MarkReadCalls())
}

func TestMarkRead_CountComesFromServer(t *testing.T) {
	r, f, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()

	// The server knows about more unread items than the cache does.
	f.SetUnread("u1", note("n1"), note("n2"), note("n3"))
	require.True(t, r.Merge(ctx, "u1", note("n1")))

	list, count, err := r.MarkRead(ctx, "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n3"}, ids(list))
	assert.Equal(t, 2, count)

	list, count = r.Cached(ctx, "u1")
	assert.Equal(t, []string{"n2", "n3"}, ids(list))
	assert.Equal(t, 2, count)
}

func TestMarkRead_RefetchFailureIsReturned(t *testing.T) {
	r, f, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()

	f.SetUnread("u1", note("n1"), note("n2"), note("n3"))
	_, _, err := r.RefreshUnread(ctx, "u1")
	require.NoError(t, err)

	f.Fail("GET /notifications/unread", http.StatusInternalServerError)
	f.Fail("GET /notifications/unread-count", http.StatusInternalServerError)

	list, count, err := r.MarkRead(ctx, "u1", "n1")
	require.Error(t, err)
	assert.Nil(t, list)
	assert.Zero(t, count)
	assert.Equal(t, []string{"n1"}, f.MarkReadCalls())

	// Nothing stale is left behind; the next read goes to the server.
	f.Fail("GET /notifications/unread", 0)
	f.Fail("GET /notifications/unread-count", 0)
	n, err := r.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMarkRead_ServerFailureLeavesCache(t *testing.T) {
	r, _, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()
	require.True(t, r.Merge(ctx, "u1", note("n1")))

	_, _, err := r.MarkRead(ctx, "u1", "unknown")
	require.Error(t, err)
	assert.Equal(t, "Notification not found", api.Message(err))

	list, count := r.Cached(ctx, "u1")
	assert.Equal(t, []string{"n1"}, ids(list))
	assert.Equal(t, 1, count)
}

func TestUnreadListAndCount_FetchOnMiss(t *testing.T) {
	r, f, _ := setup(t, cache.NewMemoryStore(), "u1")
	ctx := context.Background()
	f.SetUnread("u1", note("n1"), note("n2"))

	list, err := r.UnreadList(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, ids(list))
	assert.Equal(t, 1, f.Hits("GET /notifications/unread"))

	n, err := r.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Served from cache now.
	_, err = r.UnreadList(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Hits("GET /notifications/unread"))
}

type failingStore struct{}

var errStore = errors.New("store unavailable")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStore }
func (failingStore) Set(context.Context, string, []byte) error { return errStore }
func (failingStore) Update(context.Context, string, cache.UpdateFunc) error { return errStore }
func (failingStore) Delete(context.Context, ...string) error { return errStore }
func (failingStore) Close() error { return nil }

func TestMerge_StoreFailureIsDropped(t *testing.T) {
	r, f, m := setup(t, failingStore{}, "u1")
	ctx := context.Background()

	assert.NotPanics(t, func() {
		assert.False(t, r.Merge(ctx, "u1", note("n1")))
	})
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ReconcileDropped))

	list, count := r.Cached(ctx, "u1")
	assert.Empty(t, list)
	assert.Zero(t, count)

	// Reads fall through to the server.
	f.SetUnread("u1", note("n9"))
	got, err := r.UnreadList(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n9"}, ids(got))
}

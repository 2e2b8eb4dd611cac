// Package reconcile keeps the per-user unread cache consistent between
// REST refreshes and realtime pushes.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/insync/internal/cache"
	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/metrics"
	"github.com/nhle/insync/internal/model"
)

// API is the server surface the reconciler refreshes from.
type API interface {
	UnreadNotifications(ctx context.Context) ([]model.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	DashboardSummary(ctx context.Context) (*model.DashboardSummary, error)
}

// Reconciler merges pushes into the cache and refreshes it from the
// server. Every read-then-write sequence runs under one mutex so a push
// and a refresh never interleave.
type Reconciler struct {
	store   cache.Store
	api     API
	log     *zap.Logger
	metrics *metrics.Collectors

	mu sync.Mutex
}

// New creates a Reconciler. m and log may be nil.
func New(store cache.Store, api API, m *metrics.Collectors, log *zap.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		api:     api,
		log:     logging.Component(log, "reconcile"),
		metrics: metrics.OrDefault(m),
	}
}

// Merge prepends n to userID's cached unread list unless an entry with the
// same id is already there, and bumps the cached count when it does. It
// reports whether n was inserted. Cache failures are logged and dropped.
func (r *Reconciler) Merge(ctx context.Context, userID string, n model.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var inserted bool
	err := cache.UpdateJSON(ctx, r.store, cache.Key(userID, cache.Notifications),
		func(cur []model.Notification, _ bool) ([]model.Notification, bool, error) {
			inserted = false
			for _, existing := range cur {
				if existing.ID == n.ID {
					return cur, false, nil
				}
			}
			inserted = true
			return append([]model.Notification{n}, cur...), true, nil
		})
	if err != nil {
		r.drop("merging notification", userID, err)
		return false
	}
	if !inserted {
		r.metrics.DuplicatesSkipped.Inc()
		r.log.Debug("duplicate notification skipped",
			zap.String("user_id", userID),
			zap.String("notification_id", n.ID),
		)
		return false
	}

	err = cache.UpdateJSON(ctx, r.store, cache.Key(userID, cache.NotificationsCount),
		func(count int, _ bool) (int, bool, error) {
			return count + 1, true, nil
		})
	if err != nil {
		r.drop("incrementing unread count", userID, err)
	}

	// The dashboard counters are stale now.
	if err := r.store.Delete(ctx, cache.Key(userID, cache.Dashboard)); err != nil {
		r.drop("invalidating dashboard", userID, err)
	}

	r.metrics.NotificationsMerged.Inc()
	r.log.Debug("notification merged",
		zap.String("user_id", userID),
		zap.String("notification_id", n.ID),
		zap.String("event_type", string(n.EventType)),
	)
	return true
}

// RefreshUnread replaces userID's cached list and count with the server's.
func (r *Reconciler) RefreshUnread(ctx context.Context, userID string) ([]model.Notification, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx, userID)
}

func (r *Reconciler) refreshLocked(ctx context.Context, userID string) ([]model.Notification, int, error) {
	list, err := r.api.UnreadNotifications(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching unread notifications: %w", err)
	}
	count, err := r.api.UnreadCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching unread count: %w", err)
	}

	if err := cache.SetJSON(ctx, r.store, cache.Key(userID, cache.Notifications), list); err != nil {
		r.drop("caching unread notifications", userID, err)
	}
	if err := cache.SetJSON(ctx, r.store, cache.Key(userID, cache.NotificationsCount), count); err != nil {
		r.drop("caching unread count", userID, err)
	}
	return list, count, nil
}

// Cached returns userID's cached list and count without touching the
// server. Missing entries read as empty and zero.
func (r *Reconciler) Cached(ctx context.Context, userID string) ([]model.Notification, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, _, err := cache.GetJSON[[]model.Notification](ctx, r.store, cache.Key(userID, cache.Notifications))
	if err != nil {
		r.drop("reading unread notifications", userID, err)
	}
	count, _, err := cache.GetJSON[int](ctx, r.store, cache.Key(userID, cache.NotificationsCount))
	if err != nil {
		r.drop("reading unread count", userID, err)
	}
	if list == nil {
		list = []model.Notification{}
	}
	return list, count
}

// UnreadList returns the cached list, fetching it on a miss.
func (r *Reconciler) UnreadList(ctx context.Context, userID string) ([]model.Notification, error) {
	r.mu.Lock()
	list, found, err := cache.GetJSON[[]model.Notification](ctx, r.store, cache.Key(userID, cache.Notifications))
	r.mu.Unlock()
	if err == nil && found {
		return list, nil
	}
	if err != nil {
		r.drop("reading unread notifications", userID, err)
	}

	list, _, err = r.RefreshUnread(ctx, userID)
	return list, err
}

// UnreadCount returns the cached count, fetching it on a miss.
func (r *Reconciler) UnreadCount(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	count, found, err := cache.GetJSON[int](ctx, r.store, cache.Key(userID, cache.NotificationsCount))
	r.mu.Unlock()
	if err == nil && found {
		return count, nil
	}
	if err != nil {
		r.drop("reading unread count", userID, err)
	}

	_, count, err = r.RefreshUnread(ctx, userID)
	return count, err
}

// MarkRead marks id read on the server. On success userID's cached list,
// count and dashboard are invalidated and the list and count are fetched
// again; the count is never decremented locally. If the refetch fails the
// entries stay invalidated and the error is returned.
func (r *Reconciler) MarkRead(ctx context.Context, userID, id string) ([]model.Notification, int, error) {
	if err := r.api.MarkNotificationRead(ctx, id); err != nil {
		return nil, 0, fmt.Errorf("marking notification %s read: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, cache.UserKeys(userID)...); err != nil {
		r.drop("invalidating unread cache", userID, err)
	}
	list, count, err := r.refreshLocked(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("refreshing after marking %s read: %w", id, err)
	}
	return list, count, nil
}

// DashboardSummary returns userID's cached dashboard, fetching it on a
// miss.
func (r *Reconciler) DashboardSummary(ctx context.Context, userID string) (*model.DashboardSummary, error) {
	key := cache.Key(userID, cache.Dashboard)

	r.mu.Lock()
	cached, found, err := cache.GetJSON[model.DashboardSummary](ctx, r.store, key)
	r.mu.Unlock()
	if err == nil && found {
		return &cached, nil
	}
	if err != nil {
		r.drop("reading dashboard", userID, err)
	}

	s, err := r.api.DashboardSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching dashboard summary: %w", err)
	}

	r.mu.Lock()
	if err := cache.SetJSON(ctx, r.store, key, *s); err != nil {
		r.drop("caching dashboard", userID, err)
	}
	r.mu.Unlock()
	return s, nil
}

// Clear removes every cached entry for userID.
func (r *Reconciler) Clear(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, cache.UserKeys(userID)...); err != nil {
		return fmt.Errorf("clearing cache for %s: %w", userID, err)
	}
	return nil
}

func (r *Reconciler) drop(op, userID string, err error) {
	r.metrics.ReconcileDropped.Inc()
	r.log.Warn(op+" failed",
		zap.String("user_id", userID),
		zap.Error(err),
	)
}

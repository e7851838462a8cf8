package orchestrators

import (
	"context"
	"log/slog"
	"time"

	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/domain/attendance"
)

// loadToday reads the role's today cache. Stale or unreadable entries come
// back as an empty cache.
func loadToday(ctx context.Context, store kv.Adapter, role string, now time.Time) (attendance.TodayCache, bool) {
	key := attendance.CacheKey(role)
	v, ok, err := store.Get(ctx, key)
	if err != nil {
		slog.Warn("storage_unavailable", "store", store.Name(), "op", "get", "key", key, "error", err)
		return attendance.TodayCache{}, false
	}
	if !ok {
		return attendance.TodayCache{}, false
	}
	c, err := attendance.DecodeToday(v)
	if err != nil || !c.IsFresh(now) {
		return attendance.TodayCache{}, false
	}
	return c, true
}

func saveToday(ctx context.Context, store kv.Adapter, role string, c attendance.TodayCache) {
	key := attendance.CacheKey(role)
	v, err := c.Encode()
	if err != nil {
		slog.Error("attendance_event", "event", "cache_encode_failed", "error", err)
		return
	}
	if err := store.Set(ctx, key, v); err != nil {
		slog.Warn("storage_unavailable", "store", store.Name(), "op", "set", "key", key, "error", err)
	}
}

func clearToday(ctx context.Context, store kv.Adapter, role string) {
	key := attendance.CacheKey(role)
	if err := store.Remove(ctx, key); err != nil {
		slog.Warn("storage_unavailable", "store", store.Name(), "op", "remove", "key", key, "error", err)
	}
}

// recordToday folds r into the role's cache when it happened today.
func recordToday(ctx context.Context, store kv.Adapter, role string, r *attendance.Record, now time.Time) {
	if store == nil || r == nil || !attendance.SameDay(r.Timestamp, now, now.Location()) {
		return
	}
	c, _ := loadToday(ctx, store, role, now)
	c.Apply(*r, now)
	saveToday(ctx, store, role, c)
}

// maskCard keeps card numbers out of logs.
func maskCard(id string) string {
	r := []rune(id)
	if len(r) <= 4 {
		return "****"
	}
	return "****" + string(r[len(r)-4:])
}

package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/domain/attendance"

	"github.com/robfig/cron/v3"
)

// TombstoneRetention is how long removed kv rows are kept for watchers.
const TombstoneRetention = 24 * time.Hour

// ListingStore is a kv store whose keys can be enumerated.
type ListingStore interface {
	kv.Adapter
	kv.Lister
}

// Compactor drops kv tombstones.
type Compactor interface {
	Compact(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeStaleAttendanceDeps holds dependencies for PurgeStaleAttendance.
type PurgeStaleAttendanceDeps struct {
	Shared    ListingStore
	Compactor Compactor // optional
	Now       func() time.Time
}

// PurgeResult reports what a purge removed.
type PurgeResult struct {
	Removed    int
	Tombstones int64
}

// ExecutePurgeStaleAttendance removes today caches written on earlier days.
// PRE: deps.Shared is set
// POST: Every remaining attendance cache entry decodes and is fresh
func ExecutePurgeStaleAttendance(ctx context.Context, deps PurgeStaleAttendanceDeps) (PurgeResult, error) {
	if deps.Shared == nil {
		return PurgeResult{}, errors.New("shared store is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	now := deps.Now()

	keys, err := deps.Shared.Keys(ctx, attendance.CacheKeyPrefix)
	if err != nil {
		return PurgeResult{}, err
	}
	var res PurgeResult
	for _, key := range keys {
		if !strings.HasPrefix(key, attendance.CacheKeyPrefix) {
			continue
		}
		v, ok, err := deps.Shared.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if c, err := attendance.DecodeToday(v); err == nil && c.IsFresh(now) {
			continue
		}
		if err := deps.Shared.Remove(ctx, key); err != nil {
			slog.Warn("storage_unavailable", "store", deps.Shared.Name(), "op", "remove", "key", key, "error", err)
			continue
		}
		res.Removed++
	}

	if deps.Compactor != nil {
		n, err := deps.Compactor.Compact(ctx, now.Add(-TombstoneRetention))
		if err != nil {
			slog.Warn("storage_unavailable", "store", deps.Shared.Name(), "op", "compact", "error", err)
		}
		res.Tombstones = n
	}
	slog.Info("attendance_event", "event", "cache_purged", "removed", res.Removed, "tombstones", res.Tombstones)
	return res, nil
}

// StartCacheRollover runs ExecutePurgeStaleAttendance at every local midnight
// and once immediately. The returned stop waits for a running purge.
func StartCacheRollover(ctx context.Context, deps PurgeStaleAttendanceDeps) (stop func(), err error) {
	run := func() {
		if _, err := ExecutePurgeStaleAttendance(ctx, deps); err != nil {
			slog.Warn("attendance_event", "event", "cache_purge_failed", "error", err)
		}
	}
	c := cron.New()
	if _, err := c.AddFunc("@midnight", run); err != nil {
		return nil, err
	}
	run()
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

package orchestrators

import (
	"context"
	"log/slog"
	"time"

	"frontdesk/internal/adapters/api"
	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/domain/attendance"
)

// MsgStatusUnavailable is shown when the attendance summary cannot be fetched.
const MsgStatusUnavailable = "Unable to load attendance status."

// CheckInReader fetches a role's attendance summary.
type CheckInReader interface {
	CheckIn(ctx context.Context, role string) (api.CheckInStatus, error)
}

// LoadAttendanceTodayInput carries input for loading today's attendance.
type LoadAttendanceTodayInput struct {
	Role string
}

// LoadAttendanceTodayDeps holds dependencies for LoadAttendanceToday.
type LoadAttendanceTodayDeps struct {
	Backend CheckInReader
	Shared  kv.Adapter // optional
	Now     func() time.Time
	// OnCached, when set, receives a fresh cache before the network call.
	OnCached func(attendance.TodayCache)
}

// LoadAttendanceTodayResult is today's attendance summary for display.
type LoadAttendanceTodayResult struct {
	Today  attendance.TodayCache
	Cached bool   // Today came from the local cache only
	Status Status // zero on success
}

// ExecuteLoadAttendanceToday shows the cached summary, then refreshes it.
// PRE: input.Role is user or trainer
// POST: Values from earlier days are never returned
// POST: On a fetch failure the cache is left untouched and Status is a warning
func ExecuteLoadAttendanceToday(ctx context.Context, input LoadAttendanceTodayInput, deps LoadAttendanceTodayDeps) LoadAttendanceTodayResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	now := deps.Now()

	var cached attendance.TodayCache
	var hit bool
	if deps.Shared != nil {
		cached, hit = loadToday(ctx, deps.Shared, input.Role, now)
		if hit && deps.OnCached != nil {
			deps.OnCached(cached)
		}
	}

	st, err := deps.Backend.CheckIn(ctx, input.Role)
	if err != nil {
		slog.Warn("attendance_event", "event", "status_unavailable", "role", input.Role, "error", err)
		return LoadAttendanceTodayResult{
			Today:  cached,
			Cached: hit,
			Status: warning(api.Message(err, MsgStatusUnavailable)),
		}
	}

	today := summarize(st, now)
	if deps.Shared != nil {
		if today.Latest == nil && today.CheckInTime.IsZero() && today.CheckOutTime.IsZero() {
			clearToday(ctx, deps.Shared, input.Role)
		} else {
			saveToday(ctx, deps.Shared, input.Role, today)
		}
	}
	return LoadAttendanceTodayResult{Today: today}
}

// summarize keeps the parts of st that happened on now's calendar day.
func summarize(st api.CheckInStatus, now time.Time) attendance.TodayCache {
	loc := now.Location()
	today := func(t time.Time) bool { return !t.IsZero() && attendance.SameDay(t, now, loc) }

	c := attendance.TodayCache{CachedAt: now}
	latest := st.Latest
	if latest == nil || !today(latest.Timestamp) {
		latest = nil
		for i := range st.Recent {
			r := st.Recent[i]
			if !today(r.Timestamp) {
				continue
			}
			if latest == nil || r.Timestamp.After(latest.Timestamp) {
				latest = &r
			}
		}
	}
	if latest != nil {
		rec := *latest
		c.Latest = &rec
	}
	if today(st.LastCheckIn) {
		c.CheckInTime = st.LastCheckIn
	}
	if today(st.LastCheckOut) {
		c.CheckOutTime = st.LastCheckOut
	}
	// A check-out before the latest check-in belongs to an earlier visit.
	if !c.CheckOutTime.IsZero() && c.CheckOutTime.Before(c.CheckInTime) {
		c.CheckOutTime = time.Time{}
	}
	return c
}

package attendance

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrBadCache is returned for today-cache entries that cannot be decoded.
var ErrBadCache = errors.New("attendance cache entry is malformed")

// TodayCache is the locally remembered attendance summary for the current day.
type TodayCache struct {
	CachedAt     time.Time `json:"cachedAt"`
	Latest       *Record   `json:"latest,omitempty"`
	CheckInTime  time.Time `json:"checkInTime,omitzero"`
	CheckOutTime time.Time `json:"checkOutTime,omitzero"`
}

// CacheKey returns the today-cache key for a kiosk role.
func CacheKey(role string) string {
	return CacheKeyPrefix + role
}

// IsFresh reports whether the cache was written on the same day as now.
// INVARIANT: a cache from a previous day is never displayed
func (c *TodayCache) IsFresh(now time.Time) bool {
	if c.CachedAt.IsZero() {
		return false
	}
	return SameDay(c.CachedAt, now, now.Location())
}

// Apply folds a new record into the cache.
// PRE: r.Validate() returned nil
// POST: Latest is r; the matching check-in or check-out time is updated
func (c *TodayCache) Apply(r Record, now time.Time) {
	if !c.IsFresh(now) {
		*c = TodayCache{}
	}
	rec := r
	c.Latest = &rec
	c.CachedAt = now
	if r.IsCheckIn() {
		c.CheckInTime = r.Timestamp
		c.CheckOutTime = time.Time{}
		return
	}
	c.CheckOutTime = r.Timestamp
}

// Encode serializes the cache entry.
func (c TodayCache) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeToday parses a cache entry written by Encode.
// POST: Returns ErrBadCache for malformed entries
func DecodeToday(value string) (TodayCache, error) {
	var c TodayCache
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		return TodayCache{}, ErrBadCache
	}
	if c.CachedAt.IsZero() {
		return TodayCache{}, ErrBadCache
	}
	return c, nil
}

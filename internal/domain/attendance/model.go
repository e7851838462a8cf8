package attendance

import (
	"errors"
	"strings"
	"time"
)

// Action constants
const (
	ActionCheckIn  = "check_in"
	ActionCheckOut = "check_out"
)

// TimestampLayout is the backend's local wall-clock format.
const TimestampLayout = "2006-01-02 15:04:05"

// CacheKeyPrefix prefixes the per-role today cache key.
const CacheKeyPrefix = "attendance_today_v1:"

// Domain errors
var (
	ErrInvalidAction  = errors.New("action must be check_in or check_out")
	ErrEmptyTimestamp = errors.New("attendance timestamp must be set")
	ErrBadTimestamp   = errors.New("attendance timestamp is not a recognized format")
)

// Record is one check-in or check-out event.
type Record struct {
	ID        string    `json:"id"`
	AccountID int64     `json:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks if the Record has valid data.
// PRE: Record struct is populated
// POST: Returns nil if valid, error otherwise
func (r *Record) Validate() error {
	if r.Action != ActionCheckIn && r.Action != ActionCheckOut {
		return ErrInvalidAction
	}
	if r.Timestamp.IsZero() {
		return ErrEmptyTimestamp
	}
	return nil
}

// IsCheckIn returns true for check-in records.
// INVARIANT: Record fields are not mutated
func (r *Record) IsCheckIn() bool {
	return r.Action == ActionCheckIn
}

// NormalizeAction maps backend spellings such as "Check-In" onto the action
// constants. It returns "" for anything else.
func NormalizeAction(value string) string {
	a := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	switch a {
	case ActionCheckIn, ActionCheckOut:
		return a
	}
	return ""
}

// ParseTimestamp accepts the backend's wall-clock layout or RFC 3339.
// Wall-clock values are interpreted in loc.
// PRE: loc is not nil
// POST: Returns ErrBadTimestamp for anything else
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, ErrEmptyTimestamp
	}
	if t, err := time.ParseInLocation(TimestampLayout, v, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	return time.Time{}, ErrBadTimestamp
}

// FormatTimestamp renders t in the backend's wall-clock layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// NextAction returns the action that follows the last one of the day.
// POST: an empty or check-out history yields check-in
func NextAction(last *Record) string {
	if last != nil && last.IsCheckIn() {
		return ActionCheckOut
	}
	return ActionCheckIn
}

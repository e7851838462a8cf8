package scancontrol

import (
	"encoding/json"
	"errors"
	"time"
)

// CacheKey is the shared-store key holding the last known scan state.
const CacheKey = "attendance_scan_control_v1"

// Domain errors
var (
	ErrMissingFlag = errors.New("scan control payload has no is_active flag")
	ErrBadCache    = errors.New("scan control cache entry is malformed")
)

// State is the organization-wide scan-enabled flag.
type State struct {
	IsActive  bool
	UpdatedAt time.Time
}

// Fallback is the state adopted whenever the real state is unknown.
// Scanning stays enabled when the backend or cache cannot be read.
// INVARIANT: the same value is used for every failure path
func Fallback() State {
	return State{IsActive: true}
}

// cacheEntry is the persisted JSON shape.
type cacheEntry struct {
	IsActive  *bool  `json:"isActive"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// EncodeCache serializes the state for the shared store.
// PRE: none
// POST: Returns JSON {"isActive":bool,"updatedAt":RFC3339}
func EncodeCache(s State) string {
	active := s.IsActive
	e := cacheEntry{IsActive: &active}
	if !s.UpdatedAt.IsZero() {
		e.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// DecodeCache parses a cache entry written by EncodeCache.
// PRE: none
// POST: Returns ErrBadCache if the value is not a well-formed entry
func DecodeCache(value string) (State, error) {
	var e cacheEntry
	if err := json.Unmarshal([]byte(value), &e); err != nil {
		return State{}, ErrBadCache
	}
	if e.IsActive == nil {
		return State{}, ErrBadCache
	}
	s := State{IsActive: *e.IsActive}
	if e.UpdatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, e.UpdatedAt)
		if err != nil {
			return State{}, ErrBadCache
		}
		s.UpdatedAt = t
	}
	return s, nil
}

// DecodeOrFallback decodes a cache value, falling back on any failure.
// A missing value (ok == false) also yields the fallback.
func DecodeOrFallback(value string, ok bool) State {
	if !ok {
		return Fallback()
	}
	s, err := DecodeCache(value)
	if err != nil {
		return Fallback()
	}
	return s
}

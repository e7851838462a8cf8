package orchestrators

import (
	"context"
	"sync"
	"time"

	"frontdesk/internal/adapters/api"
	"frontdesk/internal/domain/attendance"
)

var fixedTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return fixedTime }

func fixedID() string { return "test-id-001" }

// manualClock is a settable clock for cooldown tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type gate bool

func (g gate) Enabled() bool { return bool(g) }

func record(action string, at time.Time) *attendance.Record {
	return &attendance.Record{ID: "r1", AccountID: 7, UserName: "Sam", Action: action, Timestamp: at}
}

// fakeBackend answers every attendance call with canned values.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	scan     api.ScanResult
	scanErr  error
	register string
	regErr   error
	status   api.CheckInStatus
	statErr  error
}

func (f *fakeBackend) note(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) ScanRFID(_ context.Context, cardID string) (api.ScanResult, error) {
	f.note("rfid:" + cardID)
	return f.scan, f.scanErr
}

func (f *fakeBackend) QRCheckIn(_ context.Context, role, token string) (api.ScanResult, error) {
	f.note("qr:" + role + ":" + token)
	return f.scan, f.scanErr
}

func (f *fakeBackend) RegisterCard(_ context.Context, _ int64, cardID string) (string, error) {
	f.note("register:" + cardID)
	return f.register, f.regErr
}

func (f *fakeBackend) CheckIn(_ context.Context, role string) (api.CheckInStatus, error) {
	f.note("status:" + role)
	return f.status, f.statErr
}

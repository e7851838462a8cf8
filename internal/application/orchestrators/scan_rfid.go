package orchestrators

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"frontdesk/internal/adapters/api"
	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/domain/attendance"
	"frontdesk/internal/domain/kiosk"
	"frontdesk/internal/domain/scan"
)

// Kiosk scan messages
const (
	MsgScannerPaused = "Scanner is currently paused by admin."
	MsgInvalidCard   = "Invalid RFID card."
	MsgCheckedIn     = "Checked in successfully."
	MsgCheckedOut    = "Checked out successfully."
	MsgScanFailed    = "Scan failed. Please contact front desk if this continues."
	MsgNotToday      = "Recorded, but timestamp is not today."
)

// PendingCardKey holds the last unregistered card so an admin can bind it.
const PendingCardKey = "rfid_pending_card_id"

// RFIDScanner posts card taps to the backend.
type RFIDScanner interface {
	ScanRFID(ctx context.Context, cardID string) (api.ScanResult, error)
}

// ScanGate reports whether scanning is currently permitted.
type ScanGate interface {
	Enabled() bool
}

// ScanSubmitterDeps holds dependencies for ScanSubmitter.
type ScanSubmitterDeps struct {
	Backend RFIDScanner
	Gate    ScanGate
	Shared  kv.Adapter // durable store for the pending card and the today cache
	Guard   *Guard     // optional; defaults to DefaultRFIDCooldown
	// Role names the today cache to update. Empty means the public kiosk;
	// a personal role also warns when the recorded scan is not from today.
	Role string
	Now  func() time.Time
}

// Outcome is the result of one card tap.
type Outcome struct {
	Status        Status
	Record        *attendance.Record
	Ignored       bool   // dropped by the guard; nothing shown
	PendingCardID string // set when the card is not registered yet
}

// ScanSubmitter runs the public kiosk's RFID flow.
type ScanSubmitter struct {
	deps ScanSubmitterDeps

	mu   sync.Mutex
	last *attendance.Record
}

// NewScanSubmitter creates a submitter.
// PRE: deps.Backend and deps.Gate are not nil
func NewScanSubmitter(deps ScanSubmitterDeps) *ScanSubmitter {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Guard == nil {
		deps.Guard = NewGuard(DefaultRFIDCooldown, deps.Now)
	}
	return &ScanSubmitter{deps: deps}
}

// LastRecord returns the most recent successful scan, if any.
func (s *ScanSubmitter) LastRecord() *attendance.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// NextAction is the action the next tap is expected to record.
func (s *ScanSubmitter) NextAction() string {
	return attendance.NextAction(s.LastRecord())
}

// Submit handles one raw card id from the reader or the manual entry field.
// PRE: none
// POST: Never returns an error; every failure is a danger or warning Status
func (s *ScanSubmitter) Submit(ctx context.Context, raw string) Outcome {
	if !s.deps.Gate.Enabled() {
		return Outcome{Status: warning(MsgScannerPaused)}
	}
	if !s.deps.Guard.TryAcquire() {
		slog.Debug("scan_event", "event", "scan_ignored", "reason", "busy")
		return Outcome{Ignored: true}
	}
	out := s.submit(ctx, raw)
	s.deps.Guard.Release(!out.Status.Failed())
	return out
}

func (s *ScanSubmitter) submit(ctx context.Context, raw string) Outcome {
	cardID := scan.NormalizeCardID(raw)
	if cardID == "" {
		return Outcome{Status: danger(MsgInvalidCard)}
	}

	res, err := s.deps.Backend.ScanRFID(ctx, cardID)
	if err != nil {
		msg := api.Message(err, MsgScanFailed)
		slog.Warn("scan_event", "event", "scan_rejected", "card", maskCard(cardID), "error", err)
		out := Outcome{Status: danger(msg)}
		if scan.IsCardNotRegistered(msg) {
			s.rememberPending(ctx, cardID)
			out.PendingCardID = cardID
		}
		return out
	}

	msg := res.Message
	if msg == "" {
		msg = MsgCheckedIn
		if res.Record != nil && !res.Record.IsCheckIn() {
			msg = MsgCheckedOut
		}
	}
	now := s.deps.Now()
	if s.deps.Role != "" && (res.Record == nil || !attendance.SameDay(res.Record.Timestamp, now, now.Location())) {
		slog.Warn("scan_event", "event", "scan_not_today", "card", maskCard(cardID), "role", s.deps.Role)
		text := MsgNotToday
		if res.Message != "" {
			text = res.Message
		}
		return Outcome{Status: warning(text), Record: res.Record}
	}
	if res.Record != nil {
		s.mu.Lock()
		s.last = res.Record
		s.mu.Unlock()
		if s.deps.Shared != nil {
			recordToday(ctx, s.deps.Shared, s.cacheRole(), res.Record, now)
		}
	}
	action := ""
	if res.Record != nil {
		action = res.Record.Action
	}
	slog.Info("scan_event", "event", "scan_recorded", "card", maskCard(cardID), "action", action)
	return Outcome{Status: success(msg), Record: res.Record}
}

func (s *ScanSubmitter) cacheRole() string {
	if s.deps.Role == "" {
		return kiosk.ModePublic
	}
	return s.deps.Role
}

func (s *ScanSubmitter) rememberPending(ctx context.Context, cardID string) {
	if s.deps.Shared == nil {
		return
	}
	if err := s.deps.Shared.Set(ctx, PendingCardKey, cardID); err != nil {
		slog.Warn("storage_unavailable", "store", s.deps.Shared.Name(), "op", "set", "key", PendingCardKey, "error", err)
	}
}

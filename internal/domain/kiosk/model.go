package kiosk

import (
	"errors"
	"time"

	"frontdesk/internal/domain/account"
)

// Mode constants select which check-in flow a kiosk runs.
const (
	ModePublic  = "public"  // shared front-desk reader, RFID cards
	ModeUser    = "user"    // member self check-in, QR codes
	ModeTrainer = "trainer" // trainer check-in, QR codes
)

// Domain errors
var (
	ErrInvalidMode   = errors.New("kiosk mode must be one of: public, user, trainer")
	ErrEmptyInstance = errors.New("kiosk must have an instance id")
	ErrNotActive     = errors.New("kiosk session is not active")
)

// Session is one running agent instance bound to a reader.
type Session struct {
	InstanceID string
	Mode       string
	Device     string // input device path or "stdin"
	StartedAt  time.Time
	LastSeen   time.Time
	EndedAt    time.Time
}

// HeartbeatTTL is how long an instance may go unseen before it counts as gone.
const HeartbeatTTL = 2 * time.Minute

// Validate checks if the Session has valid data.
// PRE: Session struct is populated
// POST: Returns nil if valid, error otherwise
func (s *Session) Validate() error {
	if s.InstanceID == "" {
		return ErrEmptyInstance
	}
	if !IsValidMode(s.Mode) {
		return ErrInvalidMode
	}
	if s.StartedAt.IsZero() {
		return errors.New("started_at cannot be zero")
	}
	return nil
}

// IsActive returns true if the session has not ended.
// INVARIANT: Session fields are not mutated
func (s *Session) IsActive() bool {
	return s.EndedAt.IsZero()
}

// End terminates the kiosk session.
// PRE: Session is currently active
// POST: EndedAt is set to now
func (s *Session) End(now time.Time) error {
	if !s.IsActive() {
		return ErrNotActive
	}
	s.EndedAt = now
	return nil
}

// IsStale reports whether the instance has missed its heartbeats.
func (s *Session) IsStale(now time.Time) bool {
	seen := s.LastSeen
	if seen.IsZero() {
		seen = s.StartedAt
	}
	return now.Sub(seen) > HeartbeatTTL
}

// IsValidMode reports whether mode is a known kiosk mode.
func IsValidMode(mode string) bool {
	switch mode {
	case ModePublic, ModeUser, ModeTrainer:
		return true
	}
	return false
}

// QRType returns the QR token type a mode accepts, empty for RFID-only modes.
func QRType(mode string) string {
	switch mode {
	case ModeUser:
		return account.RoleUser
	case ModeTrainer:
		return account.RoleTrainer
	}
	return ""
}

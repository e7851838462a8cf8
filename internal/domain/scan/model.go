package scan

import (
	"errors"
	"strings"
	"time"
)

// DefaultMinLength is the shortest buffer accepted as a card identifier.
const DefaultMinLength = 4

// Domain errors
var (
	ErrEmptyCardID = errors.New("card id is empty after normalization")
	ErrEmptyToken  = errors.New("qr code does not contain a token")
)

// Event is one completed card read produced by a decoder.
type Event struct {
	CardID     string
	CapturedAt time.Time
}

// Validate checks if the Event has valid data.
// PRE: Event struct is populated
// POST: Returns nil if valid, error otherwise
// INVARIANT: CardID is trimmed and non-empty
func (e *Event) Validate() error {
	if e.CardID == "" || strings.TrimSpace(e.CardID) != e.CardID {
		return ErrEmptyCardID
	}
	if e.CapturedAt.IsZero() {
		return errors.New("captured_at cannot be zero")
	}
	return nil
}

// NormalizeCardID trims whitespace from a raw reader value.
// PRE: none
// POST: Returns the trimmed value; empty means nothing usable was read
func NormalizeCardID(raw string) string {
	return strings.TrimSpace(raw)
}

// IsCardNotRegistered reports whether a backend message says the card is unknown.
// The backend phrases this as "card not registered" or "card is not registered".
func IsCardNotRegistered(message string) bool {
	m := strings.ToLower(message)
	if !strings.Contains(m, "card") {
		return false
	}
	return strings.Contains(m, "not registered") || strings.Contains(m, "unregistered")
}

package session

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"frontdesk/internal/domain/account"
)

// StorageKey is the single key under which the session envelope is stored.
const StorageKey = "frontdesk_session_v1"

// Domain errors
var (
	ErrEmptyToken  = errors.New("session token cannot be empty")
	ErrMissingUser = errors.New("session has no user profile")
	ErrBadEnvelope = errors.New("stored session is malformed")
)

// State is the client-side authentication state.
type State int

const (
	Anonymous State = iota
	Authenticated
	Refreshing
)

// String returns the log-friendly name of the state.
func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	}
	return "unknown"
}

// UserProfile is the signed-in user as reported by the backend.
type UserProfile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// IsAdmin reports whether the user may change organization settings.
func (u UserProfile) IsAdmin() bool {
	return account.IsAdminRole(u.Role)
}

// HasRole reports whether the user holds one of the given roles.
// Either administrator spelling satisfies the other.
func (u UserProfile) HasRole(roles ...string) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
		if account.IsAdminRole(r) && u.IsAdmin() {
			return true
		}
	}
	return false
}

// Merge overlays non-zero fields of fresh onto u.
// POST: fields absent from fresh keep their previous values
func (u UserProfile) Merge(fresh UserProfile) UserProfile {
	if fresh.ID != 0 {
		u.ID = fresh.ID
	}
	if fresh.Name != "" {
		u.Name = fresh.Name
	}
	if fresh.Email != "" {
		u.Email = fresh.Email
	}
	if fresh.Role != "" {
		u.Role = fresh.Role
	}
	return u
}

// AuthSession is a bearer token paired with the user it belongs to.
type AuthSession struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
	// SavedAt records when the envelope was written.
	SavedAt time.Time `json:"savedAt,omitempty"`
}

// Validate checks if the AuthSession has valid data.
// PRE: AuthSession struct is populated
// POST: Returns nil if valid, error otherwise
// INVARIANT: a token is never stored without its user
func (s *AuthSession) Validate() error {
	if strings.TrimSpace(s.Token) == "" {
		return ErrEmptyToken
	}
	if s.User.ID == 0 && s.User.Name == "" {
		return ErrMissingUser
	}
	return nil
}

// Encode serializes the session as one JSON envelope.
// PRE: Validate() returned nil
// POST: Returns the envelope written to every store
func (s AuthSession) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses and validates a stored envelope.
// POST: Returns ErrBadEnvelope for anything that is not a complete session
func Decode(value string) (AuthSession, error) {
	var s AuthSession
	if err := json.Unmarshal([]byte(value), &s); err != nil {
		return AuthSession{}, ErrBadEnvelope
	}
	if err := s.Validate(); err != nil {
		return AuthSession{}, ErrBadEnvelope
	}
	return s, nil
}

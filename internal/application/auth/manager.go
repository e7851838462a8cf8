// Package auth holds the agent's signed-in state and keeps it in step with
// the backend and the persisted session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"frontdesk/internal/adapters/api"
	"frontdesk/internal/application/sessionstore"
	"frontdesk/internal/domain/session"
)

// Auth errors
var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrForbidden        = errors.New("signed-in role is not permitted here")
	ErrEmptyCredentials = errors.New("email and password are required")
)

// Backend is the part of the REST client the manager calls.
type Backend interface {
	Login(ctx context.Context, email, password string) (session.AuthSession, error)
	Me(ctx context.Context) (session.UserProfile, error)
	Logout(ctx context.Context) error
}

// Deps holds dependencies for the manager.
type Deps struct {
	Backend Backend
	Store   *sessionstore.Persister
	// OnSignedOut runs after a rejected token ends the session.
	OnSignedOut func()
}

// Manager is the agent's auth state machine:
// anonymous -> authenticated (-> refreshing -> authenticated) -> anonymous.
// It satisfies api.Authenticator.
type Manager struct {
	backend     Backend
	store       *sessionstore.Persister
	onSignedOut func()

	mu    sync.RWMutex
	state session.State
	token string
	user  session.UserProfile
	// epoch changes on every sign-in and sign-out so a refresh that started
	// under an earlier session cannot overwrite a newer one.
	epoch uint64
}

var _ api.Authenticator = (*Manager)(nil)

// NewManager creates an anonymous manager.
// PRE: deps.Backend and deps.Store are not nil
func NewManager(deps Deps) *Manager {
	return &Manager{
		backend:     deps.Backend,
		store:       deps.Store,
		onSignedOut: deps.OnSignedOut,
	}
}

// State returns the current state.
func (m *Manager) State() session.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// User returns the signed-in profile.
func (m *Manager) User() (session.UserProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user, m.state != session.Anonymous
}

// Token implements api.Authenticator.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// adopt installs s as the current session and returns the new epoch.
func (m *Manager) adopt(s session.AuthSession) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = session.Authenticated
	m.token = s.Token
	m.user = s.User
	m.epoch++
	return m.epoch
}

// signOut clears memory and storage. It reports whether a session existed.
func (m *Manager) signOut(ctx context.Context) bool {
	m.mu.Lock()
	was := m.state != session.Anonymous
	m.state = session.Anonymous
	m.token = ""
	m.user = session.UserProfile{}
	m.epoch++
	m.mu.Unlock()

	m.store.Clear(ctx)
	return was
}

// Hydrate restores a persisted session, then confirms it with the backend.
// The stored user is adopted before the network call; a failed refresh keeps
// it and only a rejected token signs out.
// POST: Returns nil when nothing is persisted
func (m *Manager) Hydrate(ctx context.Context) error {
	s, ok := m.store.Hydrate(ctx)
	if !ok {
		slog.Debug("auth_event", "event", "hydrate_empty")
		return nil
	}
	m.adopt(s)
	slog.Info("auth_event", "event", "session_restored", "user_id", s.User.ID, "role", s.User.Role)
	if err := m.Refresh(ctx); err != nil && !errors.Is(err, api.ErrUnauthorized) {
		slog.Warn("auth_event", "event", "refresh_failed", "error", err)
	}
	return nil
}

// Resync adopts whatever profile is currently persisted, picking up changes
// another instance made while this one was in the background.
func (m *Manager) Resync(ctx context.Context) {
	s, ok := m.store.Read(ctx)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == session.Anonymous || m.token != s.Token {
		return
	}
	m.user = s.User
}

// Login signs in and returns the authoritative role.
// PRE: none
// POST: On success the session is persisted and State is Authenticated
func (m *Manager) Login(ctx context.Context, identifier, password string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return "", ErrEmptyCredentials
	}
	s, err := m.backend.Login(ctx, identifier, password)
	if err != nil {
		slog.Warn("auth_event", "event", "login_failed", "error", err)
		return "", fmt.Errorf("login: %w", err)
	}
	m.adopt(s)
	if err := m.store.Persist(ctx, s); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	slog.Info("auth_event", "event", "login", "user_id", s.User.ID, "role", s.User.Role)

	if err := m.Refresh(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return "", fmt.Errorf("login: %w", err)
		}
		slog.Warn("auth_event", "event", "refresh_failed", "error", err)
	}
	u, _ := m.User()
	return u.Role, nil
}

// Refresh re-reads the profile from the backend and persists it.
// A rejected token signs out; other failures keep the current user.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state == session.Anonymous {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.state = session.Refreshing
	epoch := m.epoch
	m.mu.Unlock()

	u, err := m.backend.Me(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			m.HandleUnauthorized()
			return err
		}
		m.mu.Lock()
		if m.epoch == epoch {
			m.state = session.Authenticated
		}
		m.mu.Unlock()
		return fmt.Errorf("refresh profile: %w", err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	m.user = m.user.Merge(u)
	m.state = session.Authenticated
	m.mu.Unlock()

	m.store.UpdateUser(ctx, u)
	return nil
}

// Logout revokes the token with the backend and clears the session. The
// session is cleared even when the backend call fails.
func (m *Manager) Logout(ctx context.Context) error {
	var err error
	if m.Token() != "" {
		err = m.backend.Logout(ctx)
	}
	m.signOut(ctx)
	slog.Info("auth_event", "event", "logout")
	if err != nil && !errors.Is(err, api.ErrUnauthorized) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// HandleUnauthorized implements api.Authenticator: the backend rejected the
// token, so the session ends and OnSignedOut runs.
func (m *Manager) HandleUnauthorized() {
	if !m.signOut(context.Background()) {
		return
	}
	slog.Warn("auth_event", "event", "signed_out", "reason", "unauthorized")
	if m.onSignedOut != nil {
		m.onSignedOut()
	}
}

// RequireRole guards an operation by role. Either admin spelling satisfies
// the other.
// POST: Returns ErrNotAuthenticated or ErrForbidden on failure
func (m *Manager) RequireRole(roles ...string) (session.UserProfile, error) {
	u, ok := m.User()
	if !ok {
		return session.UserProfile{}, ErrNotAuthenticated
	}
	if len(roles) > 0 && !u.HasRole(roles...) {
		return u, fmt.Errorf("%w: %s", ErrForbidden, u.Role)
	}
	return u, nil
}

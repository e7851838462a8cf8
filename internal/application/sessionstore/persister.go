// Package sessionstore keeps the signed-in session consistent across every
// configured key/value store.
package sessionstore

import (
	"context"
	"log/slog"
	"time"

	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/domain/session"
)

// Persister writes one session envelope to each store, most durable first.
// Storage failures are logged and never surface to callers; the in-memory
// session stays authoritative.
type Persister struct {
	stores []kv.Adapter
	now    func() time.Time
}

// New creates a persister over stores in priority order.
// PRE: at least one store
// POST: Returns a persister; now defaults to time.Now
func New(now func() time.Time, stores ...kv.Adapter) *Persister {
	if now == nil {
		now = time.Now
	}
	return &Persister{stores: stores, now: now}
}

// Stores returns the store names in priority order.
func (p *Persister) Stores() []string {
	names := make([]string, len(p.stores))
	for i, s := range p.stores {
		names[i] = s.Name()
	}
	return names
}

// Persist writes s to every store.
// PRE: none
// POST: Returns s.Validate()'s error without writing anything; otherwise nil
func (p *Persister) Persist(ctx context.Context, s session.AuthSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.SavedAt = p.now()
	envelope, err := s.Encode()
	if err != nil {
		return err
	}
	for _, store := range p.stores {
		p.set(ctx, store, envelope)
	}
	return nil
}

func (p *Persister) set(ctx context.Context, store kv.Adapter, envelope string) bool {
	if err := store.Set(ctx, session.StorageKey, envelope); err != nil {
		slog.Warn("storage_unavailable", "store", store.Name(), "op", "set", "error", err)
		return false
	}
	return true
}

type readResult int

const (
	readFailed readResult = iota
	readEmpty
	readInvalid
	readValid
)

func (p *Persister) read(ctx context.Context, store kv.Adapter) (session.AuthSession, readResult) {
	v, ok, err := store.Get(ctx, session.StorageKey)
	if err != nil {
		slog.Warn("storage_unavailable", "store", store.Name(), "op", "get", "error", err)
		return session.AuthSession{}, readFailed
	}
	if !ok {
		return session.AuthSession{}, readEmpty
	}
	s, err := session.Decode(v)
	if err != nil {
		slog.Warn("storage_invalid_entry", "store", store.Name(), "key", session.StorageKey, "error", err)
		return session.AuthSession{}, readInvalid
	}
	return s, readValid
}

// Read returns the session from the first store holding a valid envelope.
func (p *Persister) Read(ctx context.Context) (session.AuthSession, bool) {
	for _, store := range p.stores {
		if s, res := p.read(ctx, store); res == readValid {
			return s, true
		}
	}
	return session.AuthSession{}, false
}

// Token returns the persisted bearer token, or "".
func (p *Persister) Token(ctx context.Context) string {
	s, ok := p.Read(ctx)
	if !ok {
		return ""
	}
	return s.Token
}

// Clear removes the session from every store. A failing store does not stop
// the others from being cleared.
func (p *Persister) Clear(ctx context.Context) {
	for _, store := range p.stores {
		if err := store.Remove(ctx, session.StorageKey); err != nil {
			slog.Warn("storage_unavailable", "store", store.Name(), "op", "remove", "error", err)
		}
	}
}

// Hydrate reads the best session and copies it into stores that are empty
// or hold an invalid envelope. Stores that fail to read are left alone.
// POST: ok is false when no store holds a valid session
func (p *Persister) Hydrate(ctx context.Context) (session.AuthSession, bool) {
	var (
		best  session.AuthSession
		found bool
		stale []kv.Adapter
	)
	for _, store := range p.stores {
		s, res := p.read(ctx, store)
		switch res {
		case readValid:
			if !found {
				best, found = s, true
			}
		case readEmpty, readInvalid:
			stale = append(stale, store)
		}
	}
	if !found {
		return session.AuthSession{}, false
	}
	if len(stale) > 0 {
		envelope, err := best.Encode()
		if err != nil {
			return best, true
		}
		for _, store := range stale {
			if p.set(ctx, store, envelope) {
				slog.Debug("auth_event", "event", "session_repropagated", "store", store.Name())
			}
		}
	}
	return best, true
}

// UpdateUser merges a refreshed profile into the persisted session.
// POST: Returns false when nothing is persisted
func (p *Persister) UpdateUser(ctx context.Context, u session.UserProfile) bool {
	s, ok := p.Read(ctx)
	if !ok {
		return false
	}
	s.User = s.User.Merge(u)
	return p.Persist(ctx, s) == nil
}

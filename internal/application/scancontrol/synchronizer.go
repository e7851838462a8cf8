// Package scancontrol keeps the organization-wide "scanning enabled" flag in
// step across instances, kiosks and backend outages.
package scancontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/application/poller"
	domain "frontdesk/internal/domain/scancontrol"
)

// DefaultInterval is how often the backend is polled.
const DefaultInterval = 3 * time.Second

// ErrReadOnly is returned by SetEnabled when no Writer is configured.
var ErrReadOnly = errors.New("scan control is read-only on this instance")

// Reader fetches the authoritative flag.
type Reader interface {
	ScanControl(ctx context.Context) (domain.State, error)
}

// Writer changes the authoritative flag.
type Writer interface {
	SetScanControl(ctx context.Context, active bool) (domain.State, error)
}

// Deps holds dependencies for the synchronizer.
type Deps struct {
	Reader  Reader
	Writer  Writer     // optional; admin instances only
	Cache   kv.Adapter // shared durable store
	Watcher kv.Watcher // optional; change events from other instances
	Now     func() time.Time
}

// Options configures polling.
type Options struct {
	Interval time.Duration
}

// Synchronizer owns the in-memory flag. Every failure path (missing cache,
// poll error, unreadable change event) resolves to domain.Fallback().
type Synchronizer struct {
	deps     Deps
	interval time.Duration

	mu      sync.Mutex
	state   domain.State
	loading bool
	err     error
	subs    map[int]func(bool)
	nextSub int
	// gen changes when a run stops, so results fetched under an earlier run
	// are dropped.
	gen uint64
}

// New creates a synchronizer and adopts the cached flag at once.
// PRE: deps.Reader and deps.Cache are not nil
// POST: Loading is false only when a usable cache entry was found
func New(ctx context.Context, deps Deps, opts Options) *Synchronizer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	s := &Synchronizer{
		deps:     deps,
		interval: opts.Interval,
		state:    domain.Fallback(),
		loading:  true,
		subs:     make(map[int]func(bool)),
	}

	v, ok, err := deps.Cache.Get(ctx, domain.CacheKey)
	if err != nil {
		slog.Warn("storage_unavailable", "store", deps.Cache.Name(), "op", "get", "key", domain.CacheKey, "error", err)
		return s
	}
	if !ok {
		return s
	}
	st, err := domain.DecodeCache(v)
	if err != nil {
		slog.Warn("scan_control_event", "event", "cache_unreadable", "error", err)
		return s
	}
	s.state = st
	s.loading = false
	return s
}

// Enabled reports whether scanning is currently permitted.
func (s *Synchronizer) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsActive
}

// State returns the full current state.
func (s *Synchronizer) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loading is true until the flag has been resolved from cache or backend.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last backend failure, or nil after a successful fetch.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe registers fn for changes of the flag.
func (s *Synchronizer) Subscribe(fn func(enabled bool)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// set installs st unless gen is stale, then notifies subscribers of a change.
func (s *Synchronizer) set(gen uint64, st domain.State, fetchErr error, resolved bool) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	changed := s.state.IsActive != st.IsActive
	s.state = st
	if resolved {
		s.loading = false
		s.err = fetchErr
	}
	var fns []func(bool)
	if changed {
		for _, fn := range s.subs {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	if changed {
		slog.Info("scan_control_event", "event", "changed", "enabled", st.IsActive)
		for _, fn := range fns {
			fn(st.IsActive)
		}
	}
	return true
}

func (s *Synchronizer) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Synchronizer) writeCache(ctx context.Context, st domain.State) {
	if err := s.deps.Cache.Set(ctx, domain.CacheKey, domain.EncodeCache(st)); err != nil {
		slog.Warn("storage_unavailable", "store", s.deps.Cache.Name(), "op", "set", "key", domain.CacheKey, "error", err)
	}
}

// Refresh fetches the backend flag and stores it in memory and the cache.
// On failure the fallback is adopted in memory and the cache is left alone.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	return s.refresh(ctx, s.currentGen())
}

func (s *Synchronizer) refresh(ctx context.Context, gen uint64) error {
	st, err := s.deps.Reader.ScanControl(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		slog.Warn("scan_control_event", "event", "fetch_failed", "error", err)
		s.set(gen, domain.Fallback(), err, true)
		return fmt.Errorf("fetch scan control: %w", err)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.deps.Now()
	}
	if s.set(gen, st, nil, true) {
		s.writeCache(ctx, st)
	}
	return nil
}

// onEvent follows a cache change written by another instance. The cache is
// not rewritten, so instances never echo each other.
func (s *Synchronizer) onEvent(gen uint64, e kv.Event) {
	st := domain.Fallback()
	if !e.Removed {
		st = domain.DecodeOrFallback(e.Value, true)
	}
	slog.Debug("scan_control_event", "event", "peer_update", "enabled", st.IsActive)
	s.set(gen, st, nil, false)
}

// Start subscribes to change events before returning, then polls the
// backend immediately and every Interval until stop is called or ctx ends.
// POST: stop waits for the poll loop; nothing is applied after it returns
func (s *Synchronizer) Start(ctx context.Context) (stop func()) {
	gen := s.currentGen()

	unwatch := func() {}
	if s.deps.Watcher != nil {
		unwatch = kv.WatchKey(s.deps.Watcher, domain.CacheKey, func(e kv.Event) {
			s.onEvent(gen, e)
		})
	}
	p := poller.Start(ctx, s.interval, func(ctx context.Context) {
		s.refresh(ctx, gen)
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unwatch()
			s.mu.Lock()
			s.gen++
			s.mu.Unlock()
			p.Stop()
		})
	}
}

// SetEnabled changes the flag for every instance: the backend first when a
// Writer is configured, then memory and the shared cache.
// POST: Returns ErrReadOnly without a Writer; memory is unchanged on error
func (s *Synchronizer) SetEnabled(ctx context.Context, enabled bool) error {
	if s.deps.Writer == nil {
		return ErrReadOnly
	}
	st, err := s.deps.Writer.SetScanControl(ctx, enabled)
	if err != nil {
		return fmt.Errorf("set scan control: %w", err)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.deps.Now()
	}
	s.set(s.currentGen(), st, nil, true)
	s.writeCache(ctx, st)
	slog.Info("scan_control_event", "event", "toggled", "enabled", st.IsActive)
	return nil
}

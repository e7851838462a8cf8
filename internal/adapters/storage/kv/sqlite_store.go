package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/adapters/storage"
)

// DefaultPollInterval is how often the SQLite watcher looks for foreign writes.
const DefaultPollInterval = 500 * time.Millisecond

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	WriterID     string // identifies this instance's rows; generated when empty
	PollInterval time.Duration
	Now          func() time.Time
}

// SQLiteStore is the durable tier shared by every instance using one file.
// Each write stamps the row with a table-wide sequence number and the
// writer's id; Watch delivers rows with a newer sequence from other writers.
type SQLiteStore struct {
	db       storage.SQLDB
	writerID string
	interval time.Duration
	now      func() time.Time

	pollMu  sync.Mutex
	mu      sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	lastSeq int64
	cancel  context.CancelFunc
	done    chan struct{}
}

var (
	_ Adapter = (*SQLiteStore)(nil)
	_ Watcher = (*SQLiteStore)(nil)
	_ Lister  = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a store over a migrated database.
// PRE: db has the kv table
// POST: Returns a store; call Start to begin delivering foreign writes
func NewSQLiteStore(db storage.SQLDB, opts SQLiteOptions) *SQLiteStore {
	if opts.WriterID == "" {
		opts.WriterID = uuid.New().String()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SQLiteStore{
		db:       db,
		writerID: opts.WriterID,
		interval: opts.PollInterval,
		now:      opts.Now,
		subs:     make(map[int]func(Event)),
	}
}

// Name implements Adapter.
func (s *SQLiteStore) Name() string { return "sqlite" }

// WriterID returns the id stamped on this instance's writes.
func (s *SQLiteStore) WriterID() string { return s.writerID }

// Get implements Adapter.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var deleted bool
	err := s.db.QueryRowContext(ctx, "SELECT value, deleted FROM kv WHERE key = ?", key).Scan(&value, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	if deleted {
		return "", false, nil
	}
	return value, true, nil
}

// Set implements Adapter.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, deleted, writer_id, seq, updated_at_ms)
VALUES (?, ?, 0, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM kv), ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  deleted = 0,
  writer_id = excluded.writer_id,
  seq = excluded.seq,
  updated_at_ms = excluded.updated_at_ms`,
		key, value, s.writerID, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Remove implements Adapter. Removing an absent key is a no-op.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE kv SET
  value = '',
  deleted = 1,
  writer_id = ?,
  seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM kv),
  updated_at_ms = ?
WHERE key = ? AND deleted = 0`,
		s.writerID, s.now().UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("kv remove %s: %w", key, err)
	}
	return nil
}

// Keys implements Lister, returning live keys with the given prefix.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM kv WHERE deleted = 0 AND substr(key, 1, ?) = ? ORDER BY key",
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("kv keys %s: %w", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Compact deletes tombstones last touched before cutoff.
// PRE: cutoff is well behind the slowest watcher's poll interval
// POST: Returns the number of tombstones removed
// INVARIANT: The row holding MAX(seq) survives, so the next write never reuses
// a sequence number a watcher has already passed
func (s *SQLiteStore) Compact(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM kv
WHERE deleted = 1 AND updated_at_ms < ?
  AND seq < (SELECT MAX(seq) FROM kv)`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("kv compact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Watch implements Watcher. fn runs on the polling goroutine.
func (s *SQLiteStore) Watch(fn func(Event)) func() {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Start records the current sequence and begins polling for foreign writes.
// Writes made before Start are never delivered.
func (s *SQLiteStore) Start(ctx context.Context) error {
	var seq int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM kv").Scan(&seq); err != nil {
		return fmt.Errorf("kv start: %w", err)
	}
	s.mu.Lock()
	s.lastSeq = seq
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	slog.Debug("kv_event", "event", "watcher_started", "writer_id", s.writerID, "seq", seq)
	return nil
}

// Stop ends polling and waits for the loop to exit.
func (s *SQLiteStore) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *SQLiteStore) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("storage_unavailable", "store", s.Name(), "op", "poll", "error", err)
			}
		}
	}
}

// Poll delivers every foreign write newer than the last one seen.
func (s *SQLiteStore) Poll(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.mu.Lock()
	since := s.lastSeq
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, deleted, writer_id, seq FROM kv WHERE seq > ? ORDER BY seq", since)
	if err != nil {
		return fmt.Errorf("kv poll: %w", err)
	}
	var events []Event
	last := since
	for rows.Next() {
		var e Event
		var writer string
		var seq int64
		if err := rows.Scan(&e.Key, &e.Value, &e.Removed, &writer, &seq); err != nil {
			rows.Close()
			return fmt.Errorf("kv poll scan: %w", err)
		}
		last = seq
		if writer != s.writerID {
			events = append(events, e)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.lastSeq = last
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, e := range events {
		for _, fn := range fns {
			fn(e)
		}
	}
	return nil
}

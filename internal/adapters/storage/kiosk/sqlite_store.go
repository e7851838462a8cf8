package kiosk

import (
	"context"
	"fmt"
	"time"

	"frontdesk/internal/adapters/storage"
	domain "frontdesk/internal/domain/kiosk"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new instance store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts an instance.
// PRE: s.Validate() returns nil
// POST: Instance is persisted with seen_at set to LastSeen (or StartedAt)
func (s *SQLiteStore) Save(ctx context.Context, sess domain.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	seen := sess.LastSeen
	if seen.IsZero() {
		seen = sess.StartedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance (id, mode, device, started_at_ms, seen_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode=excluded.mode,
			device=excluded.device,
			seen_at_ms=excluded.seen_at_ms
	`, sess.InstanceID, sess.Mode, sess.Device, sess.StartedAt.UnixMilli(), seen.UnixMilli())
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

// Touch records a heartbeat.
// POST: Returns an error if the instance is not registered
func (s *SQLiteStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE instance SET seen_at_ms = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("instance %s not registered", id)
	}
	return nil
}

// Delete removes an instance. Deleting an unknown id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instance WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

// List returns every registered instance, oldest first.
// INVARIANT: Store state is not mutated
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, device, started_at_ms, seen_at_ms
		FROM instance
		ORDER BY started_at_ms, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Session{}
	for rows.Next() {
		var sess domain.Session
		var startedMs, seenMs int64
		if err := rows.Scan(&sess.InstanceID, &sess.Mode, &sess.Device, &startedMs, &seenMs); err != nil {
			return nil, err
		}
		sess.StartedAt = time.UnixMilli(startedMs)
		sess.LastSeen = time.UnixMilli(seenMs)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSeenBefore drops instances whose last heartbeat predates cutoff.
func (s *SQLiteStore) DeleteSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instance WHERE seen_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune instances: %w", err)
	}
	return res.RowsAffected()
}

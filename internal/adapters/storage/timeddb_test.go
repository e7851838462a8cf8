package storage

import (
	"context"
	"testing"
	"time"

	"frontdesk/internal/adapters/http/perf"
)

// TestTimedDB_RecordsEveryStatement verifies each call lands in the collector.
func TestTimedDB_RecordsEveryStatement(t *testing.T) {
	db := openTestDB(t)
	collector := perf.NewCollector(100)
	tdb := NewTimedDB(db, collector, time.Second)
	ctx := context.Background()

	if _, err := tdb.ExecContext(ctx, "INSERT INTO kv (key, value, writer_id, seq, updated_at_ms) VALUES (?, ?, ?, ?, ?)", "k", "v", "w", 1, 0); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	rows, err := tdb.QueryContext(ctx, "SELECT key FROM kv")
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	rows.Close()
	var v string
	if err := tdb.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", "k").Scan(&v); err != nil {
		t.Fatalf("QueryRowContext: %v", err)
	}
	tx, err := tdb.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	tx.Rollback()

	if collector.TotalRecorded() != 4 {
		t.Errorf("TotalRecorded = %d, want 4", collector.TotalRecorded())
	}
	snap := collector.Snapshot(time.Now().Add(-time.Minute), 10)
	found := map[string]bool{}
	for _, q := range snap.SlowestQueries {
		found[q.Path] = true
	}
	for _, want := range []string{"exec INSERT kv", "query SELECT kv", "query_row SELECT kv", "begin"} {
		if !found[want] {
			t.Errorf("missing query label %q in %v", want, found)
		}
	}
}

// TestTimedDB_NilCollector verifies instrumentation works without a collector.
func TestTimedDB_NilCollector(t *testing.T) {
	db := openTestDB(t)
	tdb := NewTimedDB(db, nil, 0)
	if _, err := tdb.ExecContext(context.Background(), "DELETE FROM kv"); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	if tdb.RawDB() != db {
		t.Error("RawDB should return the wrapped pool")
	}
}

func TestStatementLabel(t *testing.T) {
	tests := map[string]string{
		"SELECT value FROM kv WHERE key = ?":        "SELECT kv",
		"insert into kv(key) values (?)":            "INSERT kv",
		"UPDATE instance SET seen_at_ms = ?":        "UPDATE instance",
		"DELETE FROM instance WHERE seen_at_ms < ?": "DELETE instance",
		"PRAGMA journal_mode":                       "PRAGMA",
		"":                                          "",
	}
	for q, want := range tests {
		if got := statementLabel(q); got != want {
			t.Errorf("statementLabel(%q) = %q, want %q", q, got, want)
		}
	}
}

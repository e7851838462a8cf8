package kv_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"frontdesk/internal/adapters/http/perf"
	"frontdesk/internal/adapters/storage"
	"frontdesk/internal/adapters/storage/kv"
)

// openSharedStores opens two instances on one database file, as two kiosk
// processes on the same machine would.
func openSharedStores(t *testing.T, interval time.Duration) (*kv.SQLiteStore, *kv.SQLiteStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frontdesk.db")
	open := func(writer string) *kv.SQLiteStore {
		db, err := storage.OpenDB(context.Background(), path)
		if err != nil {
			t.Fatalf("OpenDB: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		tdb := storage.NewTimedDB(db, perf.NewCollector(64), time.Second)
		return kv.NewSQLiteStore(tdb, kv.SQLiteOptions{WriterID: writer, PollInterval: interval})
	}
	return open("writer-a"), open("writer-b")
}

func TestSQLiteStore_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	a, b := openSharedStores(t, time.Hour)

	if _, ok, err := a.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("Get(absent) = %v, %v", ok, err)
	}
	if err := a.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := a.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set again: %v", err)
	}
	if v, ok, _ := b.Get(ctx, "k"); !ok || v != "v2" {
		t.Fatalf("other instance Get = %q, %v", v, ok)
	}
	if err := b.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := a.Get(ctx, "k"); ok {
		t.Error("expected tombstoned key to read as absent")
	}
	if err := b.Remove(ctx, "never-set"); err != nil {
		t.Errorf("Remove(absent) = %v", err)
	}
}

// TestSQLiteStore_PollDeliversForeignWritesOnly verifies the writer does not hear itself.
func TestSQLiteStore_PollDeliversForeignWritesOnly(t *testing.T) {
	ctx := context.Background()
	// A long interval keeps the background loop out of the way of explicit polls.
	a, b := openSharedStores(t, time.Hour)
	a.Set(ctx, "before", "ignored")
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start a: %v", err)
	}
	defer a.Stop()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start b: %v", err)
	}
	defer b.Stop()

	var mu sync.Mutex
	var gotA, gotB []kv.Event
	a.Watch(func(e kv.Event) { mu.Lock(); gotA = append(gotA, e); mu.Unlock() })
	b.Watch(func(e kv.Event) { mu.Lock(); gotB = append(gotB, e); mu.Unlock() })

	a.Set(ctx, "flag", `{"isActive":false}`)
	a.Remove(ctx, "flag")

	if err := a.Poll(ctx); err != nil {
		t.Fatalf("Poll a: %v", err)
	}
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll b: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotA) != 0 {
		t.Errorf("writer received %d events, want 0", len(gotA))
	}
	// Both writes hit the same row, so b sees only the latest state.
	if len(gotB) != 1 || !gotB[0].Removed || gotB[0].Key != "flag" {
		t.Errorf("other instance events = %+v, want one removal of flag", gotB)
	}
}

// TestSQLiteStore_BackgroundLoopDelivers verifies Start polls without help.
func TestSQLiteStore_BackgroundLoopDelivers(t *testing.T) {
	ctx := context.Background()
	a, b := openSharedStores(t, 10*time.Millisecond)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	got := make(chan kv.Event, 1)
	b.Watch(func(e kv.Event) {
		select {
		case got <- e:
		default:
		}
	})
	a.Set(ctx, "k", "v")

	select {
	case e := <-got:
		if e.Value != "v" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSQLiteStore_KeysAndCompact(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "frontdesk.db")
	db, err := storage.OpenDB(ctx, path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()
	s := kv.NewSQLiteStore(db, kv.SQLiteOptions{Now: func() time.Time { return now }})

	s.Set(ctx, "attendance_today_v1:user", "{}")
	s.Set(ctx, "attendance_today_v1:trainer", "{}")
	s.Set(ctx, "other", "{}")
	s.Remove(ctx, "attendance_today_v1:trainer")
	s.Set(ctx, "other", "{}")

	keys, err := s.Keys(ctx, "attendance_today_v1:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "attendance_today_v1:user" {
		t.Errorf("Keys = %v", keys)
	}

	n, err := s.Compact(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if n != 1 {
		t.Errorf("Compact removed %d, want 1", n)
	}
}

// TestSQLiteStore_CompactKeepsSequenceMonotonic verifies a write after
// compacting the newest tombstone still reaches other instances.
func TestSQLiteStore_CompactKeepsSequenceMonotonic(t *testing.T) {
	ctx := context.Background()
	a, b := openSharedStores(t, time.Hour)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	var mu sync.Mutex
	var got []kv.Event
	b.Watch(func(e kv.Event) { mu.Lock(); got = append(got, e); mu.Unlock() })

	a.Set(ctx, "k1", "v")
	a.Set(ctx, "session", "{}")
	a.Remove(ctx, "session")
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	n, err := a.Compact(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if n != 0 {
		t.Errorf("Compact removed %d, want 0 while the tombstone holds the newest seq", n)
	}

	a.Set(ctx, "attendance_scan_control_v1", `{"isActive":true}`)
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	last := got[len(got)-1]
	if last.Key != "attendance_scan_control_v1" || last.Removed {
		t.Errorf("last event = %+v, want the write made after Compact", last)
	}

	// Once a newer write exists the old tombstone can go.
	if n, _ := a.Compact(ctx, time.Now().Add(time.Hour)); n != 1 {
		t.Errorf("second Compact removed %d, want 1", n)
	}
}

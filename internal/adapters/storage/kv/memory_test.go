package kv_test

import (
	"context"
	"testing"

	"frontdesk/internal/adapters/storage/kv"
)

func TestMemoryStore_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemoryStore("session")
	if s.Name() != "session" {
		t.Errorf("Name = %q", s.Name())
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected absent key")
	}
	s.Set(ctx, "k", "v")
	if v, ok, _ := s.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	s.Remove(ctx, "k")
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected key removed")
	}
}

// TestOrigin_NotifiesOtherTabsOnly verifies the writer never hears its own write.
func TestOrigin_NotifiesOtherTabsOnly(t *testing.T) {
	ctx := context.Background()
	origin := kv.NewOrigin()
	a, b := origin.Tab(), origin.Tab()

	var gotA, gotB []kv.Event
	a.Watch(func(e kv.Event) { gotA = append(gotA, e) })
	b.Watch(func(e kv.Event) { gotB = append(gotB, e) })

	a.Set(ctx, "flag", "1")
	a.Remove(ctx, "flag")

	if len(gotA) != 0 {
		t.Errorf("writer received %d events, want 0", len(gotA))
	}
	if len(gotB) != 2 {
		t.Fatalf("other tab received %d events, want 2", len(gotB))
	}
	if gotB[0].Value != "1" || gotB[0].Removed {
		t.Errorf("first event = %+v", gotB[0])
	}
	if !gotB[1].Removed {
		t.Errorf("second event = %+v, want removal", gotB[1])
	}
	if _, ok, _ := b.Get(ctx, "flag"); ok {
		t.Error("b should see the removal")
	}
}

func TestOrigin_CancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	origin := kv.NewOrigin()
	a, b := origin.Tab(), origin.Tab()
	n := 0
	cancel := b.Watch(func(kv.Event) { n++ })
	a.Set(ctx, "k", "1")
	cancel()
	cancel()
	a.Set(ctx, "k", "2")
	if n != 1 {
		t.Errorf("received %d events, want 1", n)
	}
}

func TestWatchKey_Filters(t *testing.T) {
	ctx := context.Background()
	origin := kv.NewOrigin()
	a, b := origin.Tab(), origin.Tab()
	var keys []string
	kv.WatchKey(b, "wanted", func(e kv.Event) { keys = append(keys, e.Key) })
	a.Set(ctx, "other", "x")
	a.Set(ctx, "wanted", "y")
	if len(keys) != 1 || keys[0] != "wanted" {
		t.Errorf("keys = %v", keys)
	}
}

func TestKeys_PrefixAndOrder(t *testing.T) {
	ctx := context.Background()
	tab := kv.NewOrigin().Tab()
	tab.Set(ctx, "p:b", "1")
	tab.Set(ctx, "p:a", "1")
	tab.Set(ctx, "q:a", "1")
	keys, _ := tab.Keys(ctx, "p:")
	if len(keys) != 2 || keys[0] != "p:a" || keys[1] != "p:b" {
		t.Errorf("Keys = %v", keys)
	}
}

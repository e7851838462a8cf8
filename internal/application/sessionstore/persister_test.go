package sessionstore_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"frontdesk/internal/adapters/storage"
	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/application/sessionstore"
	"frontdesk/internal/domain/session"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

// brokenStore fails every operation, like a full disk or a revoked file.
type brokenStore struct {
	removes int
}

var errBroken = errors.New("disk full")

func (b *brokenStore) Name() string { return "broken" }
func (b *brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errBroken
}
func (b *brokenStore) Set(context.Context, string, string) error { return errBroken }
func (b *brokenStore) Remove(context.Context, string) error {
	b.removes++
	return errBroken
}

func validSession() session.AuthSession {
	return session.AuthSession{
		Token: "tok-1",
		User:  session.UserProfile{ID: 7, Name: "Kim", Role: "user"},
	}
}

func TestPersist_WritesEveryStore(t *testing.T) {
	a, b := kv.NewMemoryStore("a"), kv.NewMemoryStore("b")
	p := sessionstore.New(fixedNow, a, &brokenStore{}, b)
	if err := p.Persist(context.Background(), validSession()); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	for _, store := range []*kv.MemoryStore{a, b} {
		v, ok, _ := store.Get(context.Background(), session.StorageKey)
		if !ok {
			t.Fatalf("%s: no envelope", store.Name())
		}
		s, err := session.Decode(v)
		if err != nil {
			t.Fatalf("%s: %v", store.Name(), err)
		}
		if !s.SavedAt.Equal(fixedNow()) {
			t.Errorf("%s SavedAt = %v", store.Name(), s.SavedAt)
		}
	}
}

func TestPersist_RejectsInvalid(t *testing.T) {
	a := kv.NewMemoryStore("a")
	p := sessionstore.New(fixedNow, a)
	tests := []struct {
		name string
		s    session.AuthSession
		want error
	}{
		{"no token", session.AuthSession{User: session.UserProfile{ID: 1}}, session.ErrEmptyToken},
		{"no user", session.AuthSession{Token: "t"}, session.ErrMissingUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Persist(context.Background(), tt.s); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, ok, _ := a.Get(context.Background(), session.StorageKey); ok {
		t.Error("invalid session must not be written")
	}
}

func TestRead_PriorityAndFallThrough(t *testing.T) {
	ctx := context.Background()
	first, second := kv.NewMemoryStore("first"), kv.NewMemoryStore("second")
	first.Set(ctx, session.StorageKey, `{"token":"","user":{"id":1}}`)
	other := validSession()
	other.Token = "tok-second"
	env, _ := other.Encode()
	second.Set(ctx, session.StorageKey, env)

	p := sessionstore.New(fixedNow, &brokenStore{}, first, second)
	s, ok := p.Read(ctx)
	if !ok || s.Token != "tok-second" {
		t.Errorf("Read = %+v, %v", s, ok)
	}
	if p.Token(ctx) != "tok-second" {
		t.Errorf("Token = %q", p.Token(ctx))
	}
}

func TestRead_Empty(t *testing.T) {
	p := sessionstore.New(fixedNow, kv.NewMemoryStore("a"), &brokenStore{})
	if _, ok := p.Read(context.Background()); ok {
		t.Error("Read on empty stores should report false")
	}
	if p.Token(context.Background()) != "" {
		t.Error("Token on empty stores should be empty")
	}
}

func TestClear_DoesNotShortCircuit(t *testing.T) {
	ctx := context.Background()
	a, b := kv.NewMemoryStore("a"), kv.NewMemoryStore("b")
	broken := &brokenStore{}
	p := sessionstore.New(fixedNow, a, broken, b)
	p.Persist(ctx, validSession())
	p.Clear(ctx)
	if broken.removes != 1 {
		t.Errorf("broken removes = %d", broken.removes)
	}
	for _, store := range []*kv.MemoryStore{a, b} {
		if _, ok, _ := store.Get(ctx, session.StorageKey); ok {
			t.Errorf("%s still holds a session", store.Name())
		}
	}
}

func TestHydrate_Repropagates(t *testing.T) {
	ctx := context.Background()
	durable, cookie, mem := kv.NewMemoryStore("durable"), kv.NewMemoryStore("cookie"), kv.NewMemoryStore("memory")
	cookie.Set(ctx, session.StorageKey, "not json")
	env, _ := validSession().Encode()
	mem.Set(ctx, session.StorageKey, env)

	p := sessionstore.New(fixedNow, durable, cookie, &brokenStore{}, mem)
	s, ok := p.Hydrate(ctx)
	if !ok || s.Token != "tok-1" {
		t.Fatalf("Hydrate = %+v, %v", s, ok)
	}
	for _, store := range []*kv.MemoryStore{durable, cookie} {
		v, ok, _ := store.Get(ctx, session.StorageKey)
		if !ok {
			t.Fatalf("%s not repopulated", store.Name())
		}
		if _, err := session.Decode(v); err != nil {
			t.Errorf("%s envelope: %v", store.Name(), err)
		}
	}
}

func TestHydrate_NothingStored(t *testing.T) {
	p := sessionstore.New(fixedNow, kv.NewMemoryStore("a"))
	if _, ok := p.Hydrate(context.Background()); ok {
		t.Error("Hydrate should report false")
	}
}

func TestUpdateUser_Merges(t *testing.T) {
	ctx := context.Background()
	a := kv.NewMemoryStore("a")
	p := sessionstore.New(fixedNow, a)
	if p.UpdateUser(ctx, session.UserProfile{Name: "x"}) {
		t.Error("UpdateUser without a session should report false")
	}
	p.Persist(ctx, validSession())
	if !p.UpdateUser(ctx, session.UserProfile{Email: "kim@example.com", Role: "trainer"}) {
		t.Fatal("UpdateUser = false")
	}
	s, _ := p.Read(ctx)
	if s.User.Name != "Kim" || s.User.Email != "kim@example.com" || s.User.Role != "trainer" || s.Token != "tok-1" {
		t.Errorf("merged = %+v", s)
	}
}

func TestStores(t *testing.T) {
	p := sessionstore.New(nil, kv.NewMemoryStore("a"), &brokenStore{})
	got := p.Stores()
	if len(got) != 2 || got[0] != "a" || got[1] != "broken" {
		t.Errorf("Stores = %v", got)
	}
}

// storeKinds builds one of each durable and volatile store for a test.
var storeKinds = []struct {
	name string
	open func(t *testing.T) kv.Adapter
}{
	{"memory", func(t *testing.T) kv.Adapter { return kv.NewMemoryStore("memory") }},
	{"sqlite", func(t *testing.T) kv.Adapter {
		db, err := storage.OpenDB(context.Background(), filepath.Join(t.TempDir(), "frontdesk.db"))
		if err != nil {
			t.Fatalf("OpenDB: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return kv.NewSQLiteStore(db, kv.SQLiteOptions{})
	}},
	{"cookie jar", func(t *testing.T) kv.Adapter {
		jar, err := kv.NewCookieJar(kv.CookieJarOptions{
			Path:    filepath.Join(t.TempDir(), "cookies.json"),
			HashKey: bytes.Repeat([]byte{7}, 32),
		})
		if err != nil {
			t.Fatalf("NewCookieJar: %v", err)
		}
		return jar
	}},
}

func TestPersistThenRead_RoundTrips(t *testing.T) {
	want := session.AuthSession{
		Token: "tok-round-trip",
		User:  session.UserProfile{ID: 42, Name: "Ada Front", Email: "ada@example.com", Role: "administrator"},
	}
	for _, kind := range storeKinds {
		t.Run(kind.name, func(t *testing.T) {
			ctx := context.Background()
			p := sessionstore.New(fixedNow, kind.open(t))
			if err := p.Persist(ctx, want); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			got, ok := p.Read(ctx)
			if !ok {
				t.Fatal("Read found nothing after Persist")
			}
			if got.Token != want.Token {
				t.Errorf("Token = %q, want %q", got.Token, want.Token)
			}
			if got.User != want.User {
				t.Errorf("User = %+v, want %+v", got.User, want.User)
			}
		})
	}
}

func TestClear_Idempotent(t *testing.T) {
	for _, kind := range storeKinds {
		t.Run(kind.name, func(t *testing.T) {
			ctx := context.Background()
			store := kind.open(t)
			p := sessionstore.New(fixedNow, store)
			if err := p.Persist(ctx, validSession()); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			for i := 1; i <= 2; i++ {
				p.Clear(ctx)
				if _, ok := p.Read(ctx); ok {
					t.Errorf("Read after Clear #%d found a session", i)
				}
				if _, ok, err := store.Get(ctx, session.StorageKey); ok || err != nil {
					t.Errorf("store after Clear #%d = %v, %v; want absent", i, ok, err)
				}
			}
		})
	}
}

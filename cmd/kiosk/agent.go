package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"frontdesk/internal/adapters/api"
	"frontdesk/internal/adapters/http/perf"
	"frontdesk/internal/adapters/storage"
	kioskstore "frontdesk/internal/adapters/storage/kiosk"
	"frontdesk/internal/adapters/storage/kv"
	"frontdesk/internal/application/auth"
	"frontdesk/internal/application/sessionstore"
	"frontdesk/internal/config"
)

// agent is everything one kiosk process shares across subcommands.
type agent struct {
	cfg       config.Kiosk
	started   time.Time
	db        *sql.DB
	collector *perf.Collector
	shared    *kv.SQLiteStore
	private   *kv.MemoryStore
	instances *kioskstore.SQLiteStore
	client    *api.Client
	auth      *auth.Manager
	signedOut chan struct{}
}

// openAgent opens the shared store file and wires the client and auth manager.
// POST: The caller must Close the agent
func openAgent(ctx context.Context, cfg config.Kiosk) (*agent, error) {
	db, err := storage.OpenDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &agent{
		cfg:       cfg,
		started:   time.Now(),
		db:        db,
		collector: perf.NewCollector(perf.DefaultRingSize),
		private:   kv.NewMemoryStore("memory"),
		signedOut: make(chan struct{}, 1),
	}
	timed := storage.NewTimedDB(db, a.collector, storage.DefaultSlowQuery)
	a.shared = kv.NewSQLiteStore(timed, kv.SQLiteOptions{})
	a.instances = kioskstore.NewSQLiteStore(timed)

	stores := []kv.Adapter{a.shared}
	if len(cfg.CookieHashKey) > 0 {
		jar, err := kv.NewCookieJar(kv.CookieJarOptions{
			Path:     cfg.CookiePath,
			HashKey:  cfg.CookieHashKey,
			BlockKey: cfg.CookieBlockKey,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		stores = append(stores, jar)
	}
	stores = append(stores, a.private)
	persister := sessionstore.New(nil, stores...)

	a.client, err = api.New(cfg.APIURL, api.Options{Collector: a.collector})
	if err != nil {
		db.Close()
		return nil, err
	}
	a.auth = auth.NewManager(auth.Deps{
		Backend: a.client,
		Store:   persister,
		OnSignedOut: func() {
			select {
			case a.signedOut <- struct{}{}:
			default:
			}
		},
	})
	a.client.SetAuthenticator(a.auth)
	slog.Debug("kiosk_event", "event", "agent_opened", "db", cfg.DBPath, "stores", persister.Stores())
	return a, nil
}

// signIn restores the persisted session and checks the role.
// POST: Returns auth.ErrNotAuthenticated when no session survives
func (a *agent) signIn(ctx context.Context, roles ...string) error {
	if err := a.auth.Hydrate(ctx); err != nil {
		return err
	}
	if _, err := a.auth.RequireRole(roles...); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return fmt.Errorf("%w: run `kiosk login` first", err)
		}
		return err
	}
	return nil
}

// Close releases the store file.
func (a *agent) Close() {
	a.shared.Stop()
	if err := a.db.Close(); err != nil {
		slog.Warn("storage_unavailable", "store", "sqlite", "op", "close", "error", err)
	}
}

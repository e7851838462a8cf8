package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieMaxAge is how long a cookie-jar entry stays valid.
const CookieMaxAge = 30 * 24 * time.Hour

// CookieJarOptions configures a CookieJar.
type CookieJarOptions struct {
	Path     string
	HashKey  []byte // 32 or 64 bytes; required
	BlockKey []byte // 16, 24 or 32 bytes; optional, enables encryption
	MaxAge   time.Duration
	Now      func() time.Time
}

// CookieJar is a file-backed mirror of browser cookies. Every value is
// signed (and optionally encrypted) with securecookie, so an edited file
// reads back as absent rather than as a forged session.
type CookieJar struct {
	path   string
	codec  *securecookie.SecureCookie
	maxAge time.Duration
	now    func() time.Time
	mu     sync.Mutex
}

var _ Adapter = (*CookieJar)(nil)

type jarEntry struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

// NewCookieJar creates a jar at opts.Path. The file is created on first write.
// PRE: len(opts.HashKey) > 0
// POST: Returns ErrUnavailable wrapped if the keys are unusable
func NewCookieJar(opts CookieJarOptions) (*CookieJar, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("cookie jar path is empty: %w", ErrUnavailable)
	}
	if len(opts.HashKey) == 0 {
		return nil, fmt.Errorf("cookie jar needs a hash key: %w", ErrUnavailable)
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = CookieMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	codec := securecookie.New(opts.HashKey, opts.BlockKey)
	codec.MaxAge(int(opts.MaxAge / time.Second))
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &CookieJar{path: opts.Path, codec: codec, maxAge: opts.MaxAge, now: opts.Now}, nil
}

// Name implements Adapter.
func (j *CookieJar) Name() string { return "cookie" }

// Get implements Adapter. Expired or tampered entries read as absent.
func (j *CookieJar) Get(_ context.Context, key string) (string, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load()
	if err != nil {
		return "", false, err
	}
	e, ok := entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.Expires.IsZero() && j.now().After(e.Expires) {
		return "", false, nil
	}
	var value string
	if err := j.codec.Decode(key, e.Value, &value); err != nil {
		slog.Warn("storage_invalid_entry", "store", j.Name(), "key", key, "error", err)
		return "", false, nil
	}
	return value, true, nil
}

// Set implements Adapter.
func (j *CookieJar) Set(_ context.Context, key, value string) error {
	encoded, err := j.codec.Encode(key, value)
	if err != nil {
		return fmt.Errorf("cookie encode %s: %w", key, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := j.load()
	if err != nil {
		return err
	}
	entries[key] = jarEntry{Value: encoded, Expires: j.now().Add(j.maxAge)}
	return j.save(entries)
}

// Remove implements Adapter.
func (j *CookieJar) Remove(_ context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := j.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return j.save(entries)
}

// load reads the jar file. A missing file is an empty jar; a corrupt file
// is also treated as empty so the next write replaces it.
func (j *CookieJar) load() (map[string]jarEntry, error) {
	b, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]jarEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookie jar: %w", err)
	}
	entries := make(map[string]jarEntry)
	if err := json.Unmarshal(b, &entries); err != nil {
		slog.Warn("storage_invalid_entry", "store", j.Name(), "path", j.path, "error", err)
		return make(map[string]jarEntry), nil
	}
	now := j.now()
	for k, e := range entries {
		if !e.Expires.IsZero() && now.After(e.Expires) {
			delete(entries, k)
		}
	}
	return entries, nil
}

// save replaces the jar file via a temp file and rename.
func (j *CookieJar) save(entries map[string]jarEntry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir cookie jar dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*")
	if err != nil {
		return fmt.Errorf("create cookie jar temp: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cookie jar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cookie jar: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cookie jar: %w", err)
	}
	return nil
}

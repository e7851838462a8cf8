// Package kv provides the key/value stores that back session persistence
// and the shared scan-control cache.
package kv

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by a store that cannot currently be used.
// Callers treat it like any other failure and fall through to the next store.
var ErrUnavailable = errors.New("store unavailable")

// Adapter is a string key/value store.
// Get reports ok == false for absent keys; err is reserved for failures.
type Adapter interface {
	Name() string
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Event reports that another instance changed a key.
// Removed is true when the key was deleted; Value is then empty.
type Event struct {
	Key     string
	Value   string
	Removed bool
}

// Watcher delivers change events written by other instances.
// The writing instance never receives its own events.
type Watcher interface {
	Watch(fn func(Event)) (cancel func())
}

// Lister enumerates live keys by prefix.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// WatchKey filters a watcher down to one key.
func WatchKey(w Watcher, key string, fn func(Event)) (cancel func()) {
	return w.Watch(func(e Event) {
		if e.Key == key {
			fn(e)
		}
	})
}

package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a private in-process store. It backs the per-instance
// session tier and lives only as long as the process.
type MemoryStore struct {
	name string
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty private store.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, data: make(map[string]string)}
}

// Name implements Adapter.
func (m *MemoryStore) Name() string { return m.name }

// Get implements Adapter.
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Adapter.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Remove implements Adapter.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys implements Lister.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keysWithPrefix(m.data, prefix), nil
}

func keysWithPrefix(data map[string]string, prefix string) []string {
	var keys []string
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Origin is a shared in-process store with per-tab change notification.
// Every Tab of one Origin sees the same data; a write through one Tab is
// announced to the watchers of every other Tab.
type Origin struct {
	mu       sync.Mutex
	data     map[string]string
	nextTab  int
	nextSub  int
	watchers map[int]map[int]func(Event) // tab -> subscription -> fn
}

// NewOrigin creates an empty shared origin.
func NewOrigin() *Origin {
	return &Origin{
		data:     make(map[string]string),
		watchers: make(map[int]map[int]func(Event)),
	}
}

// Tab attaches a new participant to the origin.
func (o *Origin) Tab() *Tab {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextTab++
	o.watchers[o.nextTab] = make(map[int]func(Event))
	return &Tab{origin: o, id: o.nextTab}
}

func (o *Origin) write(from int, e Event) {
	o.mu.Lock()
	if e.Removed {
		delete(o.data, e.Key)
	} else {
		o.data[e.Key] = e.Value
	}
	var fns []func(Event)
	for tab, subs := range o.watchers {
		if tab == from {
			continue
		}
		for _, fn := range subs {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Tab is one participant's view of an Origin.
type Tab struct {
	origin *Origin
	id     int
}

var (
	_ Adapter = (*Tab)(nil)
	_ Watcher = (*Tab)(nil)
	_ Lister  = (*Tab)(nil)
	_ Adapter = (*MemoryStore)(nil)
	_ Lister  = (*MemoryStore)(nil)
)

// Name implements Adapter.
func (t *Tab) Name() string { return "shared" }

// Get implements Adapter.
func (t *Tab) Get(_ context.Context, key string) (string, bool, error) {
	t.origin.mu.Lock()
	defer t.origin.mu.Unlock()
	v, ok := t.origin.data[key]
	return v, ok, nil
}

// Set implements Adapter.
func (t *Tab) Set(_ context.Context, key, value string) error {
	t.origin.write(t.id, Event{Key: key, Value: value})
	return nil
}

// Remove implements Adapter.
func (t *Tab) Remove(_ context.Context, key string) error {
	t.origin.write(t.id, Event{Key: key, Removed: true})
	return nil
}

// Keys implements Lister.
func (t *Tab) Keys(_ context.Context, prefix string) ([]string, error) {
	t.origin.mu.Lock()
	defer t.origin.mu.Unlock()
	return keysWithPrefix(t.origin.data, prefix), nil
}

// Watch implements Watcher. fn runs on the writer's goroutine, outside any lock.
func (t *Tab) Watch(fn func(Event)) func() {
	o := t.origin
	o.mu.Lock()
	o.nextSub++
	sub := o.nextSub
	o.watchers[t.id][sub] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.watchers[t.id], sub)
			o.mu.Unlock()
		})
	}
}

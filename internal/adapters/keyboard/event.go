// Package keyboard turns keystrokes from a keyboard-wedge RFID reader into
// complete card reads.
package keyboard

import (
	"sync"
	"time"
	"unicode/utf8"
)

// Key names for the non-printable keys the decoder cares about.
const (
	KeyEnter = "Enter"
	KeyTab   = "Tab"
)

// TargetKind is the kind of element that had focus when a key arrived.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetInput
	TargetTextArea
	TargetSelect
	TargetOther
)

// Target describes the focused element for a key event.
type Target struct {
	Kind            TargetKind
	ContentEditable bool
}

// IsEditable reports whether keys aimed at t belong to a person typing.
func (t Target) IsEditable() bool {
	switch t.Kind {
	case TargetInput, TargetTextArea, TargetSelect:
		return true
	}
	return t.ContentEditable
}

// KeyEvent is one key-down.
type KeyEvent struct {
	Key    string // a single character, or a key name such as KeyEnter
	Target Target
	Ctrl   bool
	Alt    bool
	Meta   bool
	At     time.Time
}

// printable returns the rune for single-character keys without modifiers.
func (e KeyEvent) printable() (string, bool) {
	if e.Ctrl || e.Alt || e.Meta {
		return "", false
	}
	if utf8.RuneCountInString(e.Key) != 1 {
		return "", false
	}
	return e.Key, true
}

// Bus fans key events out to subscribers. It stands in for the window-level
// key listener slot the decoder attaches to.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(KeyEvent)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(KeyEvent))}
}

// Subscribe registers fn for every published event.
func (b *Bus) Subscribe(fn func(KeyEvent)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber on the caller's goroutine.
func (b *Bus) Publish(e KeyEvent) {
	b.mu.RLock()
	fns := make([]func(KeyEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

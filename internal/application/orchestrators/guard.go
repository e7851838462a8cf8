package orchestrators

import (
	"sync"
	"time"
)

// Cooldowns after a submission, so a reader that repeats a card or a camera
// that keeps seeing a code does not double-submit.
const (
	DefaultRFIDCooldown = 700 * time.Millisecond
	DefaultQRCooldown   = 1500 * time.Millisecond
)

// Guard admits one submission at a time, then holds the door shut for a
// cooldown after each successful one.
type Guard struct {
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	busy  bool
	until time.Time
}

// NewGuard creates a guard. now defaults to time.Now.
func NewGuard(cooldown time.Duration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{cooldown: cooldown, now: now}
}

// TryAcquire claims the guard.
// POST: Returns false while another submission runs or the cooldown lasts
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy || g.now().Before(g.until) {
		return false
	}
	g.busy = true
	return true
}

// Release ends the submission. The cooldown starts only after a
// successful one, so a misread card can be tapped again at once.
func (g *Guard) Release(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
	if success {
		g.until = g.now().Add(g.cooldown)
	}
}

// Busy reports whether a submission is running.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

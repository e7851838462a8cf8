package keyboard

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"frontdesk/internal/domain/scan"
)

// DefaultResetAfter is the idle gap that ends a read.
const DefaultResetAfter = 500 * time.Millisecond

// Stopper is the part of *time.Timer the decoder needs.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Options configures a decoder. Use DefaultOptions and override fields;
// zero MinLength and ResetAfter fall back to their defaults.
type Options struct {
	MinLength         int
	ResetAfter        time.Duration
	SubmitOnIdle      bool // flush rather than discard on idle
	CaptureOnEditable bool // accept keys aimed at editable targets
	TerminateOnTab    bool // treat Tab like Enter
	Now               func() time.Time
	AfterFunc         AfterFunc
}

// DefaultOptions returns the options a kiosk uses out of the box.
func DefaultOptions() Options {
	return Options{
		MinLength:    scan.DefaultMinLength,
		ResetAfter:   DefaultResetAfter,
		SubmitOnIdle: true,
	}
}

func (o Options) withDefaults() Options {
	if o.MinLength <= 0 {
		o.MinLength = scan.DefaultMinLength
	}
	if o.ResetAfter <= 0 {
		o.ResetAfter = DefaultResetAfter
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = realAfterFunc
	}
	return o
}

// assembler owns the buffer and idle timer shared by both decoder strategies.
// gen increments whenever the buffer is taken or discarded, so a timer that
// fires after its buffer is gone finds a stale generation and does nothing.
type assembler struct {
	opts   Options
	onScan func(scan.Event)

	mu     sync.Mutex
	active bool
	buf    strings.Builder
	gen    uint64
	timer  Stopper
}

// arm restarts the idle timer. Caller holds a.mu.
func (a *assembler) arm() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	g := a.gen
	a.timer = a.opts.AfterFunc(a.opts.ResetAfter, func() { a.expire(g) })
}

// take returns the buffer and clears it. Caller holds a.mu.
func (a *assembler) take() string {
	v := a.buf.String()
	a.buf.Reset()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	return v
}

func (a *assembler) expire(g uint64) {
	a.mu.Lock()
	if g != a.gen || !a.active {
		a.mu.Unlock()
		return
	}
	v := a.take()
	a.mu.Unlock()

	if a.opts.SubmitOnIdle {
		a.emit(v)
		return
	}
	if v != "" {
		slog.Debug("scan_event", "event", "buffer_discarded", "reason", "idle", "length", utf8.RuneCountInString(v))
	}
}

// emit delivers a flushed buffer if it is long enough. Never called with a.mu held.
func (a *assembler) emit(raw string) {
	v := scan.NormalizeCardID(raw)
	if utf8.RuneCountInString(v) < a.opts.MinLength {
		if v != "" {
			slog.Debug("scan_event", "event", "buffer_dropped", "reason", "too_short", "length", utf8.RuneCountInString(v))
		}
		return
	}
	a.onScan(scan.Event{CardID: v, CapturedAt: a.opts.Now()})
}

// Source delivers key events to a subscriber. *Bus is a Source.
type Source interface {
	Subscribe(fn func(KeyEvent)) (unsubscribe func())
}

// Decoder assembles global key events into card reads.
type Decoder struct {
	assembler
	src   Source
	unsub func()
}

// NewDecoder creates an inactive decoder; call SetActive(true) to attach it.
// PRE: src and onScan are not nil
// POST: onScan receives each trimmed buffer of at least MinLength runes
func NewDecoder(src Source, onScan func(scan.Event), opts Options) *Decoder {
	return &Decoder{
		assembler: assembler{opts: opts.withDefaults(), onScan: onScan},
		src:       src,
	}
}

// SetActive attaches to or detaches from the source. Detaching cancels the
// idle timer and discards any partial buffer.
func (d *Decoder) SetActive(active bool) {
	d.mu.Lock()
	if d.active == active {
		d.mu.Unlock()
		return
	}
	d.active = active
	var unsub func()
	if active {
		d.mu.Unlock()
		unsub = d.src.Subscribe(d.Handle)
		d.mu.Lock()
		if !d.active {
			// Deactivated while subscribing.
			d.mu.Unlock()
			unsub()
			return
		}
		d.unsub = unsub
		d.mu.Unlock()
		slog.Debug("scan_event", "event", "decoder_attached")
		return
	}
	d.take()
	unsub, d.unsub = d.unsub, nil
	d.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	slog.Debug("scan_event", "event", "decoder_detached")
}

// Active reports whether the decoder is attached.
func (d *Decoder) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Close detaches the decoder.
func (d *Decoder) Close() {
	d.SetActive(false)
}

// Handle processes one key event. Terminators flush synchronously.
func (d *Decoder) Handle(e KeyEvent) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	if !d.opts.CaptureOnEditable && e.Target.IsEditable() {
		d.mu.Unlock()
		return
	}
	if e.Key == KeyEnter || (d.opts.TerminateOnTab && e.Key == KeyTab) {
		v := d.take()
		d.mu.Unlock()
		d.emit(v)
		return
	}
	ch, ok := e.printable()
	if !ok {
		d.mu.Unlock()
		return
	}
	d.buf.WriteString(ch)
	d.arm()
	d.mu.Unlock()
}

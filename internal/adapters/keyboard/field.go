package keyboard

import (
	"log/slog"
	"strings"

	"frontdesk/internal/domain/scan"
)

// Focuser moves input focus back to the capture field.
type Focuser interface {
	Focus()
}

// FocusFunc adapts a function to Focuser.
type FocusFunc func()

// Focus implements Focuser.
func (f FocusFunc) Focus() { f() }

// FieldDecoder assembles reads from the changing value of a dedicated
// capture field instead of individual key events. Newline, carriage return
// and tab all end a read, since a tab would otherwise move focus away.
type FieldDecoder struct {
	assembler
	focus Focuser
}

// NewFieldDecoder creates an inactive field decoder.
// PRE: onScan is not nil; focus may be nil
// POST: Change and Append are ignored until SetActive(true)
func NewFieldDecoder(onScan func(scan.Event), focus Focuser, opts Options) *FieldDecoder {
	return &FieldDecoder{
		assembler: assembler{opts: opts.withDefaults(), onScan: onScan},
		focus:     focus,
	}
}

// SetActive enables or disables capture. Enabling requests focus;
// disabling clears the field and cancels the idle timer.
func (f *FieldDecoder) SetActive(active bool) {
	f.mu.Lock()
	if f.active == active {
		f.mu.Unlock()
		return
	}
	f.active = active
	if !active {
		f.take()
	}
	f.mu.Unlock()
	if active {
		f.refocus()
	}
}

// Active reports whether the decoder is capturing.
func (f *FieldDecoder) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Close disables the decoder.
func (f *FieldDecoder) Close() {
	f.SetActive(false)
}

// Value returns the field's current contents.
func (f *FieldDecoder) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

// Change replaces the field's value, as an input event would.
// Every terminated segment is flushed; the remainder stays in the field.
func (f *FieldDecoder) Change(value string) {
	f.update(func(string) string { return value })
}

// Append adds text to the field, as a typed or streamed chunk would.
func (f *FieldDecoder) Append(text string) {
	f.update(func(cur string) string { return cur + text })
}

// update computes the new value from the current one under f.mu, so an idle
// flush can never land between the read and the write.
func (f *FieldDecoder) update(next func(cur string) string) {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return
	}
	value := next(f.buf.String())
	var ready []string
	for {
		i := strings.IndexAny(value, "\r\n\t")
		if i < 0 {
			break
		}
		term := value[i]
		ready = append(ready, value[:i])
		value = value[i+1:]
		if term == '\r' {
			value = strings.TrimPrefix(value, "\n")
		}
	}
	f.buf.Reset()
	f.gen++
	if value != "" {
		f.buf.WriteString(value)
		f.arm()
	} else if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	for _, v := range ready {
		f.emit(v)
	}
}

// Blur reports that the field lost focus; an active decoder takes it back.
func (f *FieldDecoder) Blur() {
	if f.Active() {
		f.refocus()
	}
}

// VisibilityChanged reports that the kiosk screen was hidden or shown.
func (f *FieldDecoder) VisibilityChanged(visible bool) {
	if visible && f.Active() {
		f.refocus()
	}
}

func (f *FieldDecoder) refocus() {
	if f.focus == nil {
		return
	}
	slog.Debug("scan_event", "event", "field_refocused")
	f.focus.Focus()
}

//go:build linux

package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
)

type keyValues struct {
	normal string
	shift  string
}

// keymap translates evdev key codes on a US layout. Readers only ever send
// digits, letters and a little punctuation.
var keymap = map[int]keyValues{
	evdev.KEY_1: {"1", "!"}, evdev.KEY_2: {"2", "@"}, evdev.KEY_3: {"3", "#"},
	evdev.KEY_4: {"4", "$"}, evdev.KEY_5: {"5", "%"}, evdev.KEY_6: {"6", "^"},
	evdev.KEY_7: {"7", "&"}, evdev.KEY_8: {"8", "*"}, evdev.KEY_9: {"9", "("},
	evdev.KEY_0: {"0", ")"},
	evdev.KEY_KP1: {"1", "1"}, evdev.KEY_KP2: {"2", "2"}, evdev.KEY_KP3: {"3", "3"},
	evdev.KEY_KP4: {"4", "4"}, evdev.KEY_KP5: {"5", "5"}, evdev.KEY_KP6: {"6", "6"},
	evdev.KEY_KP7: {"7", "7"}, evdev.KEY_KP8: {"8", "8"}, evdev.KEY_KP9: {"9", "9"},
	evdev.KEY_KP0: {"0", "0"},
	evdev.KEY_A: {"a", "A"}, evdev.KEY_B: {"b", "B"}, evdev.KEY_C: {"c", "C"},
	evdev.KEY_D: {"d", "D"}, evdev.KEY_E: {"e", "E"}, evdev.KEY_F: {"f", "F"},
	evdev.KEY_G: {"g", "G"}, evdev.KEY_H: {"h", "H"}, evdev.KEY_I: {"i", "I"},
	evdev.KEY_J: {"j", "J"}, evdev.KEY_K: {"k", "K"}, evdev.KEY_L: {"l", "L"},
	evdev.KEY_M: {"m", "M"}, evdev.KEY_N: {"n", "N"}, evdev.KEY_O: {"o", "O"},
	evdev.KEY_P: {"p", "P"}, evdev.KEY_Q: {"q", "Q"}, evdev.KEY_R: {"r", "R"},
	evdev.KEY_S: {"s", "S"}, evdev.KEY_T: {"t", "T"}, evdev.KEY_U: {"u", "U"},
	evdev.KEY_V: {"v", "V"}, evdev.KEY_W: {"w", "W"}, evdev.KEY_X: {"x", "X"},
	evdev.KEY_Y: {"y", "Y"}, evdev.KEY_Z: {"z", "Z"},
	evdev.KEY_MINUS: {"-", "_"}, evdev.KEY_EQUAL: {"=", "+"},
	evdev.KEY_SEMICOLON: {";", ":"}, evdev.KEY_COMMA: {",", "<"},
	evdev.KEY_DOT: {".", ">"}, evdev.KEY_SLASH: {"/", "?"},
	evdev.KEY_SPACE: {" ", " "},
}

// translator tracks modifier state across one device's events.
type translator struct {
	shift bool
	ctrl  bool
	alt   bool
	meta  bool
}

// translate turns one raw input event into a key-down, if it is one.
func (t *translator) translate(ev evdev.InputEvent) (KeyEvent, bool) {
	if ev.Type != evdev.EV_KEY {
		return KeyEvent{}, false
	}
	code := int(ev.Code)
	down := ev.Value != 0 // 1 press, 2 autorepeat, 0 release

	switch code {
	case evdev.KEY_LEFTSHIFT, evdev.KEY_RIGHTSHIFT:
		t.shift = down
		return KeyEvent{}, false
	case evdev.KEY_LEFTCTRL, evdev.KEY_RIGHTCTRL:
		t.ctrl = down
		return KeyEvent{}, false
	case evdev.KEY_LEFTALT, evdev.KEY_RIGHTALT:
		t.alt = down
		return KeyEvent{}, false
	case evdev.KEY_LEFTMETA, evdev.KEY_RIGHTMETA:
		t.meta = down
		return KeyEvent{}, false
	}
	if ev.Value != 1 {
		return KeyEvent{}, false
	}

	e := KeyEvent{
		Ctrl: t.ctrl,
		Alt:  t.alt,
		Meta: t.meta,
		At:   time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*1000),
	}
	switch code {
	case evdev.KEY_ENTER, evdev.KEY_KPENTER:
		e.Key = KeyEnter
		return e, true
	case evdev.KEY_TAB:
		e.Key = KeyTab
		return e, true
	}
	v, ok := keymap[code]
	if !ok {
		if name, known := evdev.KEY[code]; known {
			e.Key = strings.TrimPrefix(name, "KEY_")
			return e, true
		}
		return KeyEvent{}, false
	}
	e.Key = v.normal
	if t.shift {
		e.Key = v.shift
	}
	return e, true
}

// EvdevSource reads a grabbed keyboard-wedge device and publishes its keys.
type EvdevSource struct {
	dev       *evdev.InputDevice
	bus       *Bus
	closeOnce sync.Once
	closeErr  error
}

// OpenEvdev opens and grabs the input device at path. Grabbing keeps card
// numbers out of whatever else has the console.
// PRE: caller may read path (usually the input group)
// POST: Returns a source publishing to bus; Close releases the device
func OpenEvdev(path string, bus *Bus) (*EvdevSource, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input device %s: %w", path, err)
	}
	if err := dev.Grab(); err != nil {
		dev.File.Close()
		return nil, fmt.Errorf("grab input device %s: %w", path, err)
	}
	slog.Info("scan_event", "event", "reader_opened", "device", path, "name", dev.Name)
	return &EvdevSource{dev: dev, bus: bus}, nil
}

// FindEvdev returns the first input device whose name contains match.
func FindEvdev(match string) (string, error) {
	devices, err := evdev.ListInputDevices()
	if err != nil {
		return "", fmt.Errorf("list input devices: %w", err)
	}
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), strings.ToLower(match)) {
			return d.Fn, nil
		}
	}
	return "", fmt.Errorf("no input device matching %q", match)
}

// Run reads events until ctx is cancelled or the device fails.
func (s *EvdevSource) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	var tr translator
	for {
		events, err := s.dev.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input device: %w", err)
		}
		for _, ev := range events {
			if e, ok := tr.translate(ev); ok {
				s.bus.Publish(e)
			}
		}
	}
}

// Close releases the grab and closes the device.
func (s *EvdevSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.dev.Release(), s.dev.File.Close())
	})
	return s.closeErr
}

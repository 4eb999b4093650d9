// Package input turns keyboard, IME, paste and wheel events into the byte
// sequences a shell expects.
package input

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Key is a named key, or KeyChar for a printable character.
type Key int

const (
	KeyNone Key = iota
	KeyChar
	KeyEnter
	KeyBackspace
	KeyTab
	KeyEscape
	KeySpace
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyInsert
	KeyDelete
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
)

// Modifiers is a set of held modifier keys.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
	ModSuper // Command on macOS
)

// Has reports whether every modifier in m2 is held.
func (m Modifiers) Has(m2 Modifiers) bool { return m&m2 == m2 }

// KeyEvent is one key press.
type KeyEvent struct {
	Key  Key
	Char rune   // unmodified character for KeyChar
	Text string // text the platform produced, possibly already shifted
	Mods Modifiers
}

var namedKeys = map[Key]string{
	KeyEnter:     "\r",
	KeyBackspace: "\x7f",
	KeyTab:       "\t",
	KeyEscape:    "\x1b",
	KeySpace:     " ",
	KeyUp:        "\x1bOA",
	KeyDown:      "\x1bOB",
	KeyRight:     "\x1bOC",
	KeyLeft:      "\x1bOD",
	KeyHome:      "\x1b[H",
	KeyEnd:       "\x1b[F",
	KeyPageUp:    "\x1b[5~",
	KeyPageDown:  "\x1b[6~",
	KeyInsert:    "\x1b[2~",
	KeyDelete:    "\x1b[3~",
	KeyF1:        "\x1bOP",
	KeyF2:        "\x1bOQ",
	KeyF3:        "\x1bOR",
	KeyF4:        "\x1bOS",
	KeyF5:        "\x1b[15~",
	KeyF6:        "\x1b[17~",
	KeyF7:        "\x1b[18~",
	KeyF8:        "\x1b[19~",
	KeyF9:        "\x1b[20~",
	KeyF10:       "\x1b[21~",
	KeyF11:       "\x1b[23~",
	KeyF12:       "\x1b[24~",
}

// shifted maps unshifted US-layout symbols for platforms that report the
// base character with Shift held.
var shifted = map[rune]rune{
	'1': '!', '2': '@', '3': '#', '4': '$', '5': '%',
	'6': '^', '7': '&', '8': '*', '9': '(', '0': ')',
	'-': '_', '=': '+', '[': '{', ']': '}', '\\': '|',
	';': ':', '\'': '"', ',': '<', '.': '>', '/': '?', '`': '~',
}

// ctrlByte returns the C0 control code for Ctrl+r.
func ctrlByte(r rune) (byte, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return byte(r-'a') + 0x01, true
	case r >= 'A' && r <= 'Z':
		return byte(r-'A') + 0x01, true
	}
	switch r {
	case '[':
		return 0x1b, true
	case '\\':
		return 0x1c, true
	case ']':
		return 0x1d, true
	case '^':
		return 0x1e, true
	case '_':
		return 0x1f, true
	}
	return 0, false
}

// MapKey returns the bytes for a key press. ok is false when the key
// produces nothing, including unrecognized Ctrl combinations, which are
// dropped rather than guessed.
func MapKey(ev KeyEvent) ([]byte, bool) {
	if seq, ok := namedKeys[ev.Key]; ok {
		return []byte(seq), true
	}
	if ev.Key != KeyChar {
		return nil, false
	}
	if ev.Mods.Has(ModSuper) {
		return nil, false
	}

	r := ev.Char
	if r == 0 && ev.Text != "" {
		r, _ = utf8.DecodeRuneInString(ev.Text)
	}

	if ev.Mods.Has(ModCtrl) {
		if ev.Mods&(ModShift|ModAlt) != 0 {
			return nil, false
		}
		if b, ok := ctrlByte(r); ok {
			return []byte{b}, true
		}
		return nil, false
	}

	if ev.Mods.Has(ModShift) {
		// Only remap when the platform did not shift the text itself
		if ev.Text == "" || ev.Text == string(r) {
			if s, ok := shifted[r]; ok {
				return []byte(string(s)), true
			}
			if unicode.IsLower(r) {
				return []byte(string(unicode.ToUpper(r))), true
			}
		}
	}

	if ev.Text != "" {
		return []byte(ev.Text), true
	}
	if r == 0 {
		return nil, false
	}
	return []byte(string(r)), true
}

// keyNames maps DOM KeyboardEvent.key values to named keys.
var keyNames = map[string]Key{
	"Enter": KeyEnter, "Backspace": KeyBackspace, "Tab": KeyTab,
	"Escape": KeyEscape, " ": KeySpace,
	"ArrowUp": KeyUp, "ArrowDown": KeyDown, "ArrowLeft": KeyLeft, "ArrowRight": KeyRight,
	"Home": KeyHome, "End": KeyEnd, "PageUp": KeyPageUp, "PageDown": KeyPageDown,
	"Insert": KeyInsert, "Delete": KeyDelete,
	"F1": KeyF1, "F2": KeyF2, "F3": KeyF3, "F4": KeyF4, "F5": KeyF5, "F6": KeyF6,
	"F7": KeyF7, "F8": KeyF8, "F9": KeyF9, "F10": KeyF10, "F11": KeyF11, "F12": KeyF12,
}

// ParseKey builds a KeyEvent from a DOM key name and modifier flags.
// Single characters become KeyChar events carrying the name as text.
func ParseKey(name string, shift, ctrl, alt, meta bool) KeyEvent {
	var mods Modifiers
	if shift {
		mods |= ModShift
	}
	if ctrl {
		mods |= ModCtrl
	}
	if alt {
		mods |= ModAlt
	}
	if meta {
		mods |= ModSuper
	}

	if k, ok := keyNames[name]; ok {
		return KeyEvent{Key: k, Mods: mods}
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return KeyEvent{Key: KeyChar, Char: unicode.ToLower(r), Text: name, Mods: mods}
	}
	return KeyEvent{Key: KeyNone, Text: strings.TrimSpace(name), Mods: mods}
}

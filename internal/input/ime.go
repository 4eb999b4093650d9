package input

import (
	"strings"
	"unicode/utf8"
)

// ActionKind says what a key press asks the application to do.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSend
	ActionCopy
	ActionPaste
	ActionNewLocalTab
)

// Action is the result of routing one key press.
type Action struct {
	Kind ActionKind
	Data []byte
}

// Diff returns the bytes that turn prev into next on a line editor: the
// appended suffix when next extends prev, one backspace (0x08) per removed
// rune when next is a prefix of prev, otherwise a full erase and retype.
func Diff(prev, next string) []byte {
	if strings.HasPrefix(next, prev) {
		if len(next) == len(prev) {
			return nil
		}
		return []byte(next[len(prev):])
	}
	if strings.HasPrefix(prev, next) {
		n := utf8.RuneCountInString(prev[len(next):])
		return []byte(strings.Repeat("\b", n))
	}
	n := utf8.RuneCountInString(prev)
	return append([]byte(strings.Repeat("\b", n)), next...)
}

// Reconciler tracks a hidden IME text field and turns its edits into
// terminal input. It is not safe for concurrent use.
type Reconciler struct {
	buffer     string
	preedit    string
	focused    bool
	ignoreNext bool
}

// SetFocused records whether the IME field holds focus.
func (r *Reconciler) SetFocused(focused bool) { r.focused = focused }

// Composing reports whether a preedit is in progress.
func (r *Reconciler) Composing() bool { return r.preedit != "" }

// KeyPressed routes a key press. Super shortcuts become actions, Backspace
// and Delete are swallowed during composition, and printable text is left
// to the IME field while it is focused or composing.
func (r *Reconciler) KeyPressed(ev KeyEvent) Action {
	if ev.Mods.Has(ModSuper) && ev.Key == KeyChar {
		switch ev.Char {
		case 'c', 'C':
			return Action{Kind: ActionCopy}
		case 'v', 'V':
			if r.focused {
				// the field receives the paste itself
				return Action{}
			}
			return Action{Kind: ActionPaste}
		case 't', 'T':
			return Action{Kind: ActionNewLocalTab}
		}
		return Action{}
	}

	if r.Composing() && (ev.Key == KeyBackspace || ev.Key == KeyDelete) {
		return Action{}
	}

	if ev.Key == KeyChar && !ev.Mods.Has(ModCtrl) && (r.focused || r.Composing()) {
		return Action{}
	}

	data, ok := MapKey(ev)
	if !ok {
		return Action{}
	}
	return Action{Kind: ActionSend, Data: data}
}

// Preedit records the in-progress composition.
func (r *Reconciler) Preedit(text string) { r.preedit = text }

// Commit finishes a composition and returns the committed text to send.
func (r *Reconciler) Commit(text string) []byte {
	r.preedit = ""
	r.buffer = ""
	r.ignoreNext = true
	if text == "" {
		return nil
	}
	return []byte(text)
}

// BeginPaste notes that a paste is being delivered directly, so the field's
// echo of it must not be sent again.
func (r *Reconciler) BeginPaste() {
	r.buffer = ""
	r.ignoreNext = true
}

// Opened starts an IME session, which implies focus.
func (r *Reconciler) Opened() {
	r.focused = true
	r.preedit = ""
}

// Closed ends the IME session and drops any preedit.
func (r *Reconciler) Closed() {
	r.focused = false
	r.preedit = ""
}

// BufferChanged reconciles a new field value against the retained one and
// returns the bytes to send. The retained value follows the field even
// during composition; an unfocused field sends nothing and resets it.
func (r *Reconciler) BufferChanged(value string) []byte {
	if r.ignoreNext {
		r.ignoreNext = false
		r.buffer = ""
		return nil
	}
	prev := r.buffer
	r.buffer = value
	if !r.focused {
		r.buffer = ""
		return nil
	}
	if r.Composing() {
		return nil
	}
	return Diff(prev, value)
}

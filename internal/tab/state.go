// Package tab ties one transport to one emulator: it owns the session, the
// reader and parser goroutines, the redraw scheduler and the connection
// state shown to the user.
package tab

import (
	"errors"
	"time"

	"github.com/biaogd/rivett/internal/config"
	"github.com/biaogd/rivett/internal/emulator"
)

var (
	// ErrNoSession is returned by writes before a transport is ready or
	// after it went away.
	ErrNoSession = errors.New("tab: no session")
	// ErrTabClosed is returned by operations on a closed tab.
	ErrTabClosed = errors.New("tab: closed")
	// ErrNotFound is returned for an unknown tab ID.
	ErrNotFound = errors.New("tab: not found")
	// ErrNotRetryable is returned by Retry while the tab is connecting or connected.
	ErrNotRetryable = errors.New("tab: only failed or disconnected tabs can be retried")
	// ErrBusy is returned by Connect while another attempt is in flight or a
	// session is live.
	ErrBusy = errors.New("tab: connection attempt in progress")
)

// StateKind is the connection phase of a tab.
type StateKind int

const (
	Connecting StateKind = iota
	Connected
	Disconnected
	Failed
)

func (k StateKind) String() string {
	switch k {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a phase plus when it began and, for Failed and Disconnected,
// why.
type State struct {
	Kind   StateKind
	Since  time.Time
	Reason string
}

// EventKind says which field of an Event is set.
type EventKind int

const (
	EventState EventKind = iota + 1
	EventRedraw
)

// Event is delivered to the tab's listener.
type Event struct {
	Kind   EventKind
	TabID  string
	State  State           // EventState
	Damage emulator.Damage // EventRedraw
}

// Listener receives tab events. It is called without tab locks held.
type Listener func(Event)

// Settings tune a tab's emulator and pipeline.
type Settings struct {
	Term        string
	Cols, Rows  int
	Scrollback  int
	EscapeChars string

	BatchLimit     int
	ReadBuffer     int
	ReplyTimeout   time.Duration
	InputTimeout   time.Duration
	Stable         time.Duration
	Frame          time.Duration
	Tick           time.Duration
	ResizeDebounce time.Duration
}

// SettingsFrom copies the terminal and engine sections of cfg.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Term:           cfg.Terminal.Term,
		Cols:           cfg.Terminal.Cols,
		Rows:           cfg.Terminal.Rows,
		Scrollback:     cfg.Terminal.Scrollback,
		EscapeChars:    cfg.Terminal.SemanticEscapeChars,
		BatchLimit:     cfg.Engine.BatchLimit,
		ReadBuffer:     cfg.Engine.ReadBuffer,
		ReplyTimeout:   cfg.Engine.ReplyTimeout(),
		InputTimeout:   cfg.Engine.InputTimeout(),
		Stable:         cfg.Engine.Stable(),
		Frame:          cfg.Engine.Frame(),
		Tick:           cfg.Engine.Tick(),
		ResizeDebounce: cfg.Engine.ResizeDebounce(),
	}
}

// DefaultSettings returns SettingsFrom(config.Defaults()).
func DefaultSettings() Settings {
	return SettingsFrom(config.Defaults())
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Term == "" {
		s.Term = d.Term
	}
	if s.Cols <= 0 || s.Rows <= 0 {
		s.Cols, s.Rows = d.Cols, d.Rows
	}
	if s.Scrollback <= 0 {
		s.Scrollback = d.Scrollback
	}
	if s.EscapeChars == "" {
		s.EscapeChars = d.EscapeChars
	}
	if s.BatchLimit <= 0 {
		s.BatchLimit = d.BatchLimit
	}
	if s.ReadBuffer <= 0 {
		s.ReadBuffer = d.ReadBuffer
	}
	if s.ReplyTimeout <= 0 {
		s.ReplyTimeout = d.ReplyTimeout
	}
	if s.InputTimeout <= 0 {
		s.InputTimeout = d.InputTimeout
	}
	if s.Stable <= 0 {
		s.Stable = d.Stable
	}
	if s.Frame <= 0 {
		s.Frame = d.Frame
	}
	if s.Tick <= 0 {
		s.Tick = d.Tick
	}
	if s.ResizeDebounce <= 0 {
		s.ResizeDebounce = d.ResizeDebounce
	}
	return s
}

package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/biaogd/rivett/internal/backend"
	"github.com/biaogd/rivett/internal/config"
	"github.com/biaogd/rivett/internal/input"
	"github.com/biaogd/rivett/internal/logging"
	"github.com/biaogd/rivett/internal/ssh"
	"github.com/biaogd/rivett/internal/tab"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Frontend event names
const (
	EventRedraw = "terminal:redraw"
	EventState  = "terminal:state"
	EventNewTab = "terminal:new-tab"
)

const healthCheckInterval = 30 * time.Second

// RedrawPayload tells the frontend which lines of a tab to repaint.
type RedrawPayload struct {
	Tab   string `json:"tab"`
	Full  bool   `json:"full"`
	Lines []int  `json:"lines"`
}

// StatePayload reports a tab's connection state.
type StatePayload struct {
	Tab    string `json:"tab"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Since  int64  `json:"since"`
}

// TabInfo describes an open tab.
type TabInfo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Kind   string `json:"kind"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// HostInfo describes a configured SSH host.
type HostInfo struct {
	ID          string `json:"id"`
	Target      string `json:"target"`
	Description string `json:"description,omitempty"`
}

// App struct holds the application state.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	pool   *ssh.Pool
	tabs   *tab.Manager
	logger zerolog.Logger
	closer io.Closer
	stop   chan struct{}

	// emit sends an event to the frontend; replaced in tests
	emit func(name string, data ...interface{})

	// clipboard access; replaced in tests
	getClipboard func() (string, error)
	setClipboard func(string) error

	imeMu sync.Mutex
	ime   input.Reconciler
}

// NewApp creates the application with tabs configured from cfg.
func NewApp(cfg *config.Config, closer io.Closer) *App {
	pool := ssh.NewPool()
	cfg.RegisterHosts(pool)

	a := &App{
		cfg:    cfg,
		pool:   pool,
		tabs:   tab.NewManager(tab.SettingsFrom(cfg), pool),
		logger: logging.For("app"),
		closer: closer,
		stop:   make(chan struct{}),
		emit:   func(string, ...interface{}) {},
	}
	a.getClipboard = func() (string, error) { return "", fmt.Errorf("clipboard unavailable") }
	a.setClipboard = func(string) error { return fmt.Errorf("clipboard unavailable") }
	a.tabs.SetListener(a.onTabEvent)
	return a
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.emit = func(name string, data ...interface{}) {
		wailsRuntime.EventsEmit(ctx, name, data...)
	}
	a.getClipboard = func() (string, error) { return wailsRuntime.ClipboardGetText(ctx) }
	a.setClipboard = func(text string) error { return wailsRuntime.ClipboardSetText(ctx, text) }

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.tabs.Run(runCtx)
	a.pool.StartHealthChecker(healthCheckInterval, a.stop)

	a.logger.Info().Str("version", Version).Int("hosts", len(a.cfg.SSHHosts)).Msg("rivett started")
}

// shutdown is called when the app is closing.
func (a *App) shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	close(a.stop)
	if err := a.tabs.CloseAll(); err != nil {
		a.logger.Warn().Err(err).Msg("closing tabs")
	}
	a.pool.CloseAll()
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func (a *App) onTabEvent(ev tab.Event) {
	switch ev.Kind {
	case tab.EventRedraw:
		lines := ev.Damage.Lines
		if lines == nil {
			lines = []int{}
		}
		a.emit(EventRedraw, RedrawPayload{Tab: ev.TabID, Full: ev.Damage.Full, Lines: lines})
	case tab.EventState:
		a.emit(EventState, StatePayload{
			Tab:    ev.TabID,
			State:  ev.State.Kind.String(),
			Reason: ev.State.Reason,
			Since:  ev.State.Since.UnixMilli(),
		})
	}
}

func (a *App) baseContext() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

func (a *App) tab(id string) (*tab.Tab, error) {
	t := a.tabs.Get(id)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", tab.ErrNotFound, id)
	}
	return t, nil
}

func info(t *tab.Tab) TabInfo {
	st := t.State()
	kind := ""
	if s := t.Session(); s != nil {
		kind = s.Kind().String()
	}
	return TabInfo{ID: t.ID, Title: t.Title(), Kind: kind, State: st.Kind.String(), Reason: st.Reason}
}

// GetVersion returns the application version.
func (a *App) GetVersion() string {
	return Version
}

// ListHosts returns the configured SSH hosts sorted by ID.
func (a *App) ListHosts() []HostInfo {
	hosts := make([]HostInfo, 0, len(a.cfg.SSHHosts))
	for _, id := range a.cfg.HostNames() {
		def, _ := a.cfg.Host(id)
		hosts = append(hosts, HostInfo{ID: id, Target: def.SSHConfig().Target(), Description: def.Description})
	}
	return hosts
}

// ListTabs returns open tabs in creation order.
func (a *App) ListTabs() []TabInfo {
	ids := a.tabs.List()
	out := make([]TabInfo, 0, len(ids))
	for _, id := range ids {
		if t := a.tabs.Get(id); t != nil {
			out = append(out, info(t))
		}
	}
	return out
}

// NewLocalTab opens a tab running the configured local shell.
func (a *App) NewLocalTab() TabInfo {
	t := a.tabs.OpenLocal(a.baseContext(), backend.LocalOptions{
		Shell: a.cfg.Local.Shell,
		Args:  a.cfg.Local.Args,
		Env:   a.cfg.LocalEnv(),
	})
	return info(t)
}

// ConnectHost opens a tab on a configured host. password may be empty
// when keys or an agent are configured.
func (a *App) ConnectHost(hostID, password string) (TabInfo, error) {
	t, err := a.tabs.OpenRemote(a.baseContext(), hostID, ssh.Credentials{Password: password})
	if err != nil {
		return TabInfo{}, err
	}
	return info(t), nil
}

// CloseTab closes a tab.
func (a *App) CloseTab(id string) error {
	return a.tabs.Close(id)
}

// RetryTab reconnects a failed or disconnected tab in the background.
func (a *App) RetryTab(id string) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	st := t.State().Kind
	if st != tab.Failed && st != tab.Disconnected {
		return tab.ErrNotRetryable
	}
	go func() {
		if err := t.Retry(a.baseContext()); err != nil {
			a.logger.Warn().Err(err).Str("tab", id).Msg("retry failed")
		}
	}()
	return nil
}

// SendKey routes a key press from the frontend.
func (a *App) SendKey(id, key string, shift, ctrl, alt, meta bool) error {
	ev := input.ParseKey(key, shift, ctrl, alt, meta)

	a.imeMu.Lock()
	act := a.ime.KeyPressed(ev)
	a.imeMu.Unlock()

	switch act.Kind {
	case input.ActionSend:
		t, err := a.tab(id)
		if err != nil {
			return err
		}
		return t.Input(a.baseContext(), act.Data)
	case input.ActionCopy:
		_, err := a.Copy(id)
		return err
	case input.ActionPaste:
		text, err := a.getClipboard()
		if err != nil {
			return err
		}
		return a.Paste(id, text)
	case input.ActionNewLocalTab:
		a.emit(EventNewTab, a.NewLocalTab())
	}
	return nil
}

// SendText writes text as typed.
func (a *App) SendText(id, text string) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	return t.Input(a.baseContext(), []byte(text))
}

// Paste writes text as a paste, bracketed when it spans lines.
func (a *App) Paste(id, text string) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	a.imeMu.Lock()
	a.ime.BeginPaste()
	a.imeMu.Unlock()
	return t.Paste(a.baseContext(), text)
}

// ImeFocus records whether the hidden IME field has focus.
func (a *App) ImeFocus(focused bool) {
	a.imeMu.Lock()
	defer a.imeMu.Unlock()
	a.ime.SetFocused(focused)
	if !focused {
		a.ime.Closed()
	}
}

// ImePreedit records the in-progress composition.
func (a *App) ImePreedit(text string) {
	a.imeMu.Lock()
	defer a.imeMu.Unlock()
	a.ime.Preedit(text)
}

// ImeCommit sends committed composition text.
func (a *App) ImeCommit(id, text string) error {
	a.imeMu.Lock()
	data := a.ime.Commit(text)
	a.imeMu.Unlock()
	return a.send(id, data)
}

// ImeBufferChanged reconciles the IME field's new value.
func (a *App) ImeBufferChanged(id, value string) error {
	a.imeMu.Lock()
	data := a.ime.BufferChanged(value)
	a.imeMu.Unlock()
	return a.send(id, data)
}

func (a *App) send(id string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	return t.Input(a.baseContext(), data)
}

// Resize requests a new grid size; it is applied once the size settles.
func (a *App) Resize(id string, cols, rows int) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	t.RequestResize(cols, rows)
	return nil
}

// Scroll applies a wheel delta and returns the lines scrolled.
func (a *App) Scroll(id string, delta float64, pixels bool) (int, error) {
	t, err := a.tab(id)
	if err != nil {
		return 0, err
	}
	return t.ScrollWheel(input.WheelDelta{Y: float32(delta), Pixels: pixels}), nil
}

func (a *App) MousePress(id string, col, line int) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	t.MousePress(col, line)
	return nil
}

func (a *App) MouseDrag(id string, col, line int) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	t.MouseDrag(col, line)
	return nil
}

func (a *App) MouseRelease(id string) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	t.MouseRelease()
	return nil
}

func (a *App) MouseDoubleClick(id string, col, line int) error {
	t, err := a.tab(id)
	if err != nil {
		return err
	}
	t.MouseDoubleClick(col, line)
	return nil
}

// Copy puts the selection on the clipboard and returns it.
func (a *App) Copy(id string) (string, error) {
	t, err := a.tab(id)
	if err != nil {
		return "", err
	}
	text, ok := t.Copy()
	if !ok {
		return "", nil
	}
	if err := a.setClipboard(text); err != nil {
		return text, err
	}
	return text, nil
}


package tab

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/biaogd/rivett/internal/backend"
	"github.com/biaogd/rivett/internal/logging"
	"github.com/biaogd/rivett/internal/redraw"
	"github.com/biaogd/rivett/internal/ssh"
)

// Manager owns every open tab and drives their redraw ticks.
type Manager struct {
	tabs     map[string]*Tab
	order    []string
	mu       sync.RWMutex
	settings Settings
	listener Listener
	pool     *ssh.Pool
	shares   *SharedConns
	logger   zerolog.Logger
}

// NewManager creates a manager. pool may be nil when only local tabs are used.
func NewManager(settings Settings, pool *ssh.Pool) *Manager {
	return &Manager{
		tabs:     make(map[string]*Tab),
		settings: settings.withDefaults(),
		pool:     pool,
		shares:   NewSharedConns(),
		logger:   logging.For("tabs"),
	}
}

// SetListener sets the listener for tabs created afterwards.
func (m *Manager) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// Create registers a tab for open without connecting it.
func (m *Manager) Create(title string, open Opener, opts ...Option) *Tab {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	if m.listener != nil {
		opts = append([]Option{WithListener(m.listener)}, opts...)
	}
	t := New(id, title, open, m.settings, opts...)
	m.tabs[id] = t
	m.order = append(m.order, id)
	m.logger.Debug().Str("tab", id).Str("title", title).Msg("tab created")
	return t
}

// OpenLocal creates a local shell tab and starts it in the background.
func (m *Manager) OpenLocal(ctx context.Context, opts backend.LocalOptions) *Tab {
	title := filepath.Base(opts.Shell)
	if opts.Shell == "" {
		title = "local"
	}
	t := m.Create(title, LocalOpener(opts))
	t.Start(ctx)
	return t
}

// OpenRemote creates a tab for a pooled host and starts connecting.
func (m *Manager) OpenRemote(ctx context.Context, hostID string, creds ssh.Credentials) (*Tab, error) {
	if m.pool == nil {
		return nil, errors.New("tab: no ssh pool configured")
	}
	if _, ok := m.pool.GetConfig(hostID); !ok {
		return nil, fmt.Errorf("tab: unknown host %q", hostID)
	}
	t := m.Create(hostID, RemoteOpener(m.pool, m.shares, hostID, creds, m.settings.Term))
	t.Start(ctx)
	return t, nil
}

// Get returns the tab with id, or nil.
func (m *Manager) Get(id string) *Tab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tabs[id]
}

// Close closes and removes a tab.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	t, exists := m.tabs[id]
	if exists {
		delete(m.tabs, id)
		m.removeOrderLocked(id)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}
	return t.Close()
}

// CloseAll closes every tab.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	tabs := m.tabs
	m.tabs = make(map[string]*Tab)
	m.order = nil
	m.mu.Unlock()

	var errs []error
	for id, t := range tabs {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tab %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of open tabs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tabs)
}

// List returns tab IDs in creation order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Connections returns the number of SSH connections shared by open tabs.
func (m *Manager) Connections() int {
	return m.shares.Len()
}

// Tick ticks every tab and returns the IDs that redrew, sorted.
func (m *Manager) Tick(now time.Time) []string {
	m.mu.RLock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	m.mu.RUnlock()

	var redrawn []string
	for _, t := range tabs {
		if _, ok := t.Tick(now); ok {
			redrawn = append(redrawn, t.ID)
		}
	}
	sort.Strings(redrawn)
	return redrawn
}

// Run ticks at the configured interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	redraw.Run(ctx, m.settings.Tick, func(now time.Time) { m.Tick(now) })
}

func (m *Manager) removeOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

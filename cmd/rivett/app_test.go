package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biaogd/rivett/internal/backend"
	"github.com/biaogd/rivett/internal/config"
	"github.com/biaogd/rivett/internal/emulator"
	"github.com/biaogd/rivett/internal/tab"
)

type emitted struct {
	name string
	data []interface{}
}

func newTestApp(t *testing.T) (*App, *[]emitted) {
	t.Helper()
	cfg := config.Defaults()
	cfg.SSHHosts["prod"] = config.SSHHostDef{Host: "prod.example.com", User: "deploy", Description: "production"}
	a := NewApp(cfg, nil)
	var events []emitted
	a.emit = func(name string, data ...interface{}) {
		events = append(events, emitted{name, data})
	}
	t.Cleanup(func() { _ = a.tabs.CloseAll() })
	return a, &events
}

func neverOpens(context.Context, int, int) (*backend.Session, io.Reader, error) {
	return nil, nil, io.ErrUnexpectedEOF
}

func TestApp_EventsForwarded(t *testing.T) {
	a, events := newTestApp(t)
	tb := a.tabs.Create("x", neverOpens)

	tb.HandleDamage(emulator.PartialDamage(2, 0))
	a.tabs.Tick(time.Now().Add(time.Second))
	require.Error(t, tb.Connect(context.Background()))

	require.Len(t, *events, 3)
	assert.Equal(t, EventRedraw, (*events)[0].name)
	assert.Equal(t, RedrawPayload{Tab: tb.ID, Lines: []int{0, 2}}, (*events)[0].data[0])

	assert.Equal(t, EventState, (*events)[1].name)
	assert.Equal(t, "connecting", (*events)[1].data[0].(StatePayload).State)
	failed := (*events)[2].data[0].(StatePayload)
	assert.Equal(t, "failed", failed.State)
	assert.NotEmpty(t, failed.Reason)

	tabs := a.ListTabs()
	require.Len(t, tabs, 1)
	assert.Equal(t, "failed", tabs[0].State)
}

func TestApp_Snapshot(t *testing.T) {
	a, _ := newTestApp(t)
	tb := a.tabs.Create("x", neverOpens)
	tb.HandleData([]byte("\x1b[1;31mhi\x1b[0m there"))

	snap, err := a.Snapshot(tb.ID, []int{0, 99})
	require.NoError(t, err)
	assert.Equal(t, 80, snap.Cols)
	assert.Equal(t, 24, snap.Rows)
	assert.Equal(t, 8, snap.CursorCol)
	require.Len(t, snap.Lines, 1, "out of range lines are skipped")

	runs := snap.Lines[0].Runs
	require.GreaterOrEqual(t, len(runs), 2)
	assert.Equal(t, "hi", runs[0].Text)
	assert.True(t, runs[0].Bold)
	assert.NotEmpty(t, runs[0].Fg)
	assert.Equal(t, 2, runs[1].Col)
	assert.False(t, runs[1].Bold)
	assert.Contains(t, runs[1].Text, " there")

	all, err := a.Snapshot(tb.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all.Lines, 24)

	_, err = a.Snapshot("missing", nil)
	assert.ErrorIs(t, err, tab.ErrNotFound)
}

func TestApp_KeysRouteToTab(t *testing.T) {
	a, _ := newTestApp(t)
	tb := a.tabs.Create("x", neverOpens)

	assert.ErrorIs(t, a.SendKey(tb.ID, "a", false, false, false, false), tab.ErrNoSession)
	assert.Error(t, a.SendKey("missing", "a", false, false, false, false))
	assert.NoError(t, a.SendKey(tb.ID, "Shift", true, false, false, false), "modifier-only keys send nothing")

	a.getClipboard = func() (string, error) { return "pasted", nil }
	assert.ErrorIs(t, a.SendKey(tb.ID, "v", false, false, false, true), tab.ErrNoSession)
}

func TestApp_CopySelection(t *testing.T) {
	a, _ := newTestApp(t)
	tb := a.tabs.Create("x", neverOpens)
	tb.HandleData([]byte("copy me"))

	var clip string
	a.setClipboard = func(s string) error { clip = s; return nil }

	text, err := a.Copy(tb.ID)
	require.NoError(t, err)
	assert.Empty(t, text, "nothing selected")

	require.NoError(t, a.MouseDoubleClick(tb.ID, 0, 0))
	require.NoError(t, a.SendKey(tb.ID, "c", false, false, false, true))
	assert.Equal(t, "copy", clip)
}

func TestApp_ListHosts(t *testing.T) {
	a, _ := newTestApp(t)
	hosts := a.ListHosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, "prod", hosts[0].ID)
	assert.Equal(t, "deploy@prod.example.com", hosts[0].Target)
	assert.Equal(t, "production", hosts[0].Description)

	_, err := a.ConnectHost("nope", "")
	assert.Error(t, err)
}

func TestApp_RetryRequiresFailedTab(t *testing.T) {
	a, _ := newTestApp(t)
	tb := a.tabs.Create("x", neverOpens)
	assert.ErrorIs(t, a.RetryTab(tb.ID), tab.ErrNotRetryable)

	require.Error(t, tb.Connect(context.Background()))
	assert.NoError(t, a.RetryTab(tb.ID))
	assert.Error(t, a.RetryTab("missing"))
}

func TestFrontend_KeysCaughtWhileImeFocused(t *testing.T) {
	page, err := assets.ReadFile("frontend/dist/index.html")
	require.NoError(t, err)
	html := string(page)

	assert.Contains(t, html, "document.addEventListener('keydown'")
	assert.NotContains(t, html, "screen.addEventListener('keydown'", "the screen never holds focus")
	assert.Contains(t, html, "ime.focus()")
}

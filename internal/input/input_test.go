package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapKey_Named(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{KeyEnter, "\r"},
		{KeyBackspace, "\x7f"},
		{KeyTab, "\t"},
		{KeyEscape, "\x1b"},
		{KeyUp, "\x1bOA"},
		{KeyLeft, "\x1bOD"},
		{KeyHome, "\x1b[H"},
		{KeyPageDown, "\x1b[6~"},
		{KeyDelete, "\x1b[3~"},
		{KeyF1, "\x1bOP"},
		{KeyF5, "\x1b[15~"},
		{KeyF11, "\x1b[23~"},
		{KeyF12, "\x1b[24~"},
	}
	for _, tt := range tests {
		got, ok := MapKey(KeyEvent{Key: tt.key})
		require.True(t, ok)
		assert.Equal(t, tt.want, string(got))
	}
}

func TestMapKey_Ctrl(t *testing.T) {
	got, ok := MapKey(KeyEvent{Key: KeyChar, Char: 'c', Mods: ModCtrl})
	require.True(t, ok)
	assert.Equal(t, []byte{0x03}, got)

	got, ok = MapKey(KeyEvent{Key: KeyChar, Char: '[', Mods: ModCtrl})
	require.True(t, ok)
	assert.Equal(t, []byte{0x1b}, got)

	got, ok = MapKey(KeyEvent{Key: KeyChar, Char: '_', Mods: ModCtrl})
	require.True(t, ok)
	assert.Equal(t, []byte{0x1f}, got)

	_, ok = MapKey(KeyEvent{Key: KeyChar, Char: '1', Mods: ModCtrl})
	assert.False(t, ok, "unknown ctrl combination is dropped")

	_, ok = MapKey(KeyEvent{Key: KeyChar, Char: 'c', Mods: ModCtrl | ModShift})
	assert.False(t, ok)
}

func TestMapKey_Shift(t *testing.T) {
	got, _ := MapKey(KeyEvent{Key: KeyChar, Char: '1', Mods: ModShift})
	assert.Equal(t, "!", string(got))

	got, _ = MapKey(KeyEvent{Key: KeyChar, Char: 'a', Mods: ModShift})
	assert.Equal(t, "A", string(got))

	// platform already shifted
	got, _ = MapKey(KeyEvent{Key: KeyChar, Char: '2', Text: "\"", Mods: ModShift})
	assert.Equal(t, "\"", string(got))
}

func TestMapKey_Text(t *testing.T) {
	got, ok := MapKey(KeyEvent{Key: KeyChar, Char: 'é', Text: "é"})
	require.True(t, ok)
	assert.Equal(t, "é", string(got))

	_, ok = MapKey(KeyEvent{Key: KeyChar, Char: 'c', Mods: ModSuper})
	assert.False(t, ok)
}

func TestParseKey(t *testing.T) {
	ev := ParseKey("ArrowUp", false, false, false, false)
	assert.Equal(t, KeyUp, ev.Key)

	ev = ParseKey("C", true, true, false, false)
	assert.Equal(t, KeyChar, ev.Key)
	assert.Equal(t, 'c', ev.Char)
	assert.True(t, ev.Mods.Has(ModShift|ModCtrl))

	ev = ParseKey("Shift", true, false, false, false)
	assert.Equal(t, KeyNone, ev.Key)
}

func TestDiff(t *testing.T) {
	assert.Equal(t, "b", string(Diff("a", "ab")))
	assert.Equal(t, "\b\b", string(Diff("abc", "a")))
	assert.Equal(t, "\b\b\bxyz", string(Diff("abc", "xyz")))
	assert.Empty(t, Diff("same", "same"))
	assert.Equal(t, "\b", string(Diff("日本", "日")))
}

func TestReconciler_BufferFlow(t *testing.T) {
	var r Reconciler
	r.SetFocused(true)

	assert.Equal(t, "a", string(r.BufferChanged("a")))
	assert.Equal(t, "b", string(r.BufferChanged("ab")))
	assert.Equal(t, "\b", string(r.BufferChanged("a")))
}

func TestReconciler_Composition(t *testing.T) {
	var r Reconciler
	r.SetFocused(true)

	r.Preedit("ni")
	assert.True(t, r.Composing())
	assert.Nil(t, r.BufferChanged("ni"))
	assert.Equal(t, Action{}, r.KeyPressed(KeyEvent{Key: KeyBackspace}))

	assert.Equal(t, "你", string(r.Commit("你")))
	assert.False(t, r.Composing())
	assert.Nil(t, r.BufferChanged("你"), "echo of the commit is ignored")
	assert.Equal(t, "x", string(r.BufferChanged("x")))
}

func TestReconciler_FocusRules(t *testing.T) {
	var r Reconciler

	assert.Nil(t, r.BufferChanged("stray"), "unfocused field sends nothing")
	r.Opened()
	assert.Equal(t, "a", string(r.BufferChanged("a")), "opening implies focus and a fresh buffer")

	r.Preedit("n")
	assert.Nil(t, r.BufferChanged("an"))
	r.Preedit("")
	assert.Equal(t, "b", string(r.BufferChanged("anb")), "buffer followed the field during composition")

	r.Closed()
	assert.False(t, r.Composing())
	assert.Nil(t, r.BufferChanged("anbc"))
	r.SetFocused(true)
	assert.Equal(t, "x", string(r.BufferChanged("x")), "blur reset the buffer")
}

func TestReconciler_Paste(t *testing.T) {
	var r Reconciler
	r.SetFocused(true)
	r.BufferChanged("ab")

	r.BeginPaste()
	assert.Nil(t, r.BufferChanged("abpasted"))
	assert.Equal(t, "c", string(r.BufferChanged("c")))
}

func TestReconciler_KeyPressed(t *testing.T) {
	var r Reconciler

	act := r.KeyPressed(KeyEvent{Key: KeyChar, Char: 'c', Mods: ModSuper})
	assert.Equal(t, ActionCopy, act.Kind)
	act = r.KeyPressed(KeyEvent{Key: KeyChar, Char: 'v', Mods: ModSuper})
	assert.Equal(t, ActionPaste, act.Kind)
	act = r.KeyPressed(KeyEvent{Key: KeyChar, Char: 't', Mods: ModSuper})
	assert.Equal(t, ActionNewLocalTab, act.Kind)

	act = r.KeyPressed(KeyEvent{Key: KeyChar, Char: 'x', Text: "x"})
	assert.Equal(t, ActionSend, act.Kind)
	assert.Equal(t, "x", string(act.Data))

	r.SetFocused(true)
	act = r.KeyPressed(KeyEvent{Key: KeyChar, Char: 'x', Text: "x"})
	assert.Equal(t, ActionNone, act.Kind, "focused field delivers text")
	act = r.KeyPressed(KeyEvent{Key: KeyChar, Char: 'v', Mods: ModSuper})
	assert.Equal(t, ActionNone, act.Kind)

	act = r.KeyPressed(KeyEvent{Key: KeyChar, Char: 'c', Mods: ModCtrl})
	assert.Equal(t, []byte{0x03}, act.Data)
	act = r.KeyPressed(KeyEvent{Key: KeyEnter})
	assert.Equal(t, "\r", string(act.Data))
}

func TestPaste(t *testing.T) {
	assert.Equal(t, "\x1b[200~line1\nline2\x1b[201~", string(MaybeWrapPaste("line1\nline2")))
	assert.Equal(t, "single", string(MaybeWrapPaste("single")))

	wrapped := "\x1b[200~already\nwrapped\x1b[201~"
	assert.Equal(t, wrapped, string(MaybeWrapPaste(wrapped)))
}

func TestWheelLines(t *testing.T) {
	assert.Equal(t, float32(3), WheelLines(WheelDelta{Y: 3}))
	assert.Equal(t, float32(2), WheelLines(WheelDelta{Y: 40, Pixels: true}))
	assert.Equal(t, float32(100), WheelLines(WheelDelta{Y: 500}))
	assert.Equal(t, float32(-100), WheelLines(WheelDelta{Y: -5000, Pixels: true}))
	assert.Equal(t, float32(0), WheelLines(WheelDelta{Y: 0.0001}))
}

package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
)

type fakeCtrl struct {
	cfg        loop.Config
	perf       loop.Perf
	background bool
	stopped    bool
}

func (f *fakeCtrl) Status() loop.Perf   { return f.perf }
func (f *fakeCtrl) Config() loop.Config { return f.cfg }
func (f *fakeCtrl) SetMode(mode mapping.Mode) error {
	f.cfg.Mapping.Mode = mode
	return nil
}
func (f *fakeCtrl) SetBackground(on bool) { f.background = on }
func (f *fakeCtrl) Background() bool      { return f.background }
func (f *fakeCtrl) Stop()                 { f.stopped = true }

func newCtrl() *fakeCtrl {
	return &fakeCtrl{
		cfg:  loop.DefaultConfig(),
		perf: loop.Perf{FPS: 27.5, Skip: 2, InferMs: 41, Tier: "720p", Held: 1, Energy: 0.5},
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestView(t *testing.T) {
	m := New(newCtrl())
	v := m.View()
	assert.Contains(t, v, "posemusic")
	assert.Contains(t, v, string(mapping.DefaultMode))
	assert.Contains(t, v, "27.5")
	assert.Contains(t, v, "720p")
	assert.Contains(t, v, "LIVE")
}

func TestNextModeKey(t *testing.T) {
	ctrl := newCtrl()
	var m tea.Model = New(ctrl)

	m, _ = m.Update(key("m"))
	modes := mapping.Modes()
	assert.Equal(t, modes[1], ctrl.cfg.Mapping.Mode)

	m, _ = m.Update(key("1"))
	assert.Equal(t, modes[0], ctrl.cfg.Mapping.Mode)
	_ = m
}

func TestBackgroundKey(t *testing.T) {
	ctrl := newCtrl()
	var m tea.Model = New(ctrl)

	m, _ = m.Update(key("b"))
	assert.True(t, ctrl.background)

	ctrl.perf.Background = true
	m, _ = m.Update(tickMsg(time.Now()))
	assert.Contains(t, m.View(), "BACKGROUND")

	m, _ = m.Update(key("b"))
	assert.False(t, ctrl.background)
}

func TestQuitStopsLoop(t *testing.T) {
	ctrl := newCtrl()
	m, cmd := New(ctrl).Update(key("q"))
	assert.True(t, ctrl.stopped)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestEventsAreBounded(t *testing.T) {
	var m tea.Model = New(newCtrl())
	for i := 0; i < maxEvents+3; i++ {
		m, _ = m.Update(EventMsg{At: time.Unix(int64(i), 0), Kind: loop.EventTierChange, Detail: "low"})
	}
	got := m.(Model)
	assert.Len(t, got.events, maxEvents)
	assert.Contains(t, got.View(), loop.EventTierChange)
}

func TestTickPolls(t *testing.T) {
	ctrl := newCtrl()
	var m tea.Model = New(ctrl)
	ctrl.perf.Escalated = true
	ctrl.perf.FPS = 9

	m, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "ESCALATED")
	assert.Contains(t, m.View(), "9.0")
}

func TestLastCommand(t *testing.T) {
	var m tea.Model = New(newCtrl())
	assert.NotContains(t, m.View(), "note on")

	m, _ = m.Update(CommandMsg(mapping.NoteOn(64, 0.8)))
	assert.Contains(t, m.View(), "note on 64 vel 0.80")

	m, _ = m.Update(CommandMsg(mapping.Command{Kind: mapping.KindTempo, BPM: 120}))
	assert.Contains(t, m.View(), "tempo 120 bpm")
}

package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/observer"
	"github.com/vrsandeep/mailpulse/internal/progress"
	"github.com/vrsandeep/mailpulse/internal/render"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

type fakeStarter struct {
	calls int
	err   error
}

func (f *fakeStarter) StartFetching(context.Context) error {
	f.calls++
	return f.err
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func TestModel_FetchKeyStartsOnce(t *testing.T) {
	starter := &fakeStarter{}
	m := NewModel(context.Background(), starter, render.New(0), "http://localhost:8000")

	m, cmd := step(t, m, key("f"))
	require.NotNil(t, cmd)
	assert.False(t, m.TriggerEnabled())

	res := cmd()
	assert.Equal(t, startResultMsg{}, res)
	assert.Equal(t, 1, starter.calls)

	m, cmd = step(t, m, key("f"))
	assert.Nil(t, cmd, "trigger is disabled while a run is active")
}

func TestModel_StartFailureReenablesTrigger(t *testing.T) {
	m := NewModel(context.Background(), &fakeStarter{}, render.New(0), "src")
	m, _ = step(t, m, key("f"))
	m, _ = step(t, m, startResultMsg{err: context.Canceled})
	assert.True(t, m.TriggerEnabled())
	assert.Contains(t, m.View(), "context canceled")

	m, _ = step(t, m, key("f"))
	m, _ = step(t, m, startResultMsg{err: observer.ErrRunActive})
	assert.False(t, m.TriggerEnabled())
}

func TestModel_AppliesUpdates(t *testing.T) {
	m := NewModel(context.Background(), &fakeStarter{}, render.New(0), "src")

	m, _ = step(t, m, updateMsg(observer.Update{
		Appended:       []models.Email{{Subject: "from snapshot"}},
		Counters:       progress.Counters{Total: 1, Processed: 1},
		Percent:        100,
		TriggerEnabled: true,
	}))
	require.Len(t, m.Items(), 1)

	m, _ = step(t, m, updateMsg(observer.Update{State: stream.StateOpen}))
	assert.Len(t, m.Items(), 1, "starting a run keeps earlier rows")

	m, _ = step(t, m, updateMsg(observer.Update{
		Appended: []models.Email{{Subject: "alpha"}, {Subject: "beta"}},
		Counters: progress.Counters{Total: 10, Processed: 3},
		Percent:  30,
		State:    stream.StateOpen,
	}))
	require.Len(t, m.Items(), 3)
	assert.Equal(t, "from snapshot", m.Items()[0].Subject)

	view := m.View()
	assert.Contains(t, view, "Processed: 3 / 10 emails")
	assert.Contains(t, view, "alpha")
	assert.Contains(t, view, "beta")
	assert.Contains(t, view, "fetching...")
	assert.Contains(t, view, "[open]")
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(context.Background(), &fakeStarter{}, render.New(0), "src")
	m, cmd := step(t, m, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, "Bye.\n", m.View())
}

func TestProgramListenerWithoutProgram(t *testing.T) {
	var l ProgramListener
	assert.NotPanics(t, func() { l.OnUpdate(observer.Update{}) })
}

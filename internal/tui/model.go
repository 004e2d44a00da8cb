// Package tui is the bubbletea front end of mailwatch.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/observer"
	"github.com/vrsandeep/mailpulse/internal/progress"
	"github.com/vrsandeep/mailpulse/internal/render"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

// Starter is the observer's control surface.
type Starter interface {
	StartFetching(ctx context.Context) error
}

// reserved lines: title, info, indicator, blank, header, notice, hint
const chromeLines = 7

// Model is the TUI state. Items only ever grow, except when a new run clears
// them.
type Model struct {
	ctx      context.Context
	starter  Starter
	renderer render.Renderer
	source   string

	items          []models.Email
	counters       progress.Counters
	percent        float64
	triggerEnabled bool
	state          stream.State
	notice         string

	width, height int
	quitting      bool
}

// NewModel returns the initial model. source is shown in the title.
func NewModel(ctx context.Context, starter Starter, r render.Renderer, source string) Model {
	return Model{
		ctx:            ctx,
		starter:        starter,
		renderer:       r,
		source:         source,
		triggerEnabled: true,
		state:          stream.StateIdle,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "f", "enter":
			if !m.triggerEnabled {
				return m, nil
			}
			m.triggerEnabled = false
			return m, m.startCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.renderer = m.renderer.WithBarWidth(min(60, msg.Width-10))

	case updateMsg:
		m.items = append(m.items, msg.Appended...)
		m.counters = msg.Counters
		m.percent = msg.Percent
		m.triggerEnabled = msg.TriggerEnabled
		m.state = msg.State
		m.notice = msg.Notice

	case startResultMsg:
		if msg.err != nil {
			if !errors.Is(msg.err, observer.ErrRunActive) {
				m.triggerEnabled = true
			}
			m.notice = msg.err.Error()
		}
	}

	return m, nil
}

func (m Model) startCmd() tea.Cmd {
	return func() tea.Msg {
		return startResultMsg{err: m.starter.StartFetching(m.ctx)}
	}
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return "Bye.\n"
	}

	title := fmt.Sprintf("mailwatch  %s  [%s]", m.source, m.state)
	sections := []string{
		title,
		m.renderer.Info(m.counters),
		m.renderer.Indicator(m.percent),
		"",
		m.renderer.Header(),
	}

	rows := m.items
	if m.height > chromeLines && len(rows) > m.height-chromeLines {
		rows = rows[len(rows)-(m.height-chromeLines):]
	}
	if len(rows) > 0 {
		sections = append(sections, m.renderer.Rows(rows))
	}

	if m.notice != "" {
		sections = append(sections, m.renderer.Notice(m.notice))
	}

	hint := "[f] fetch new mail  [q] quit"
	if !m.triggerEnabled {
		hint = "fetching...  [q] quit"
	}
	sections = append(sections, m.renderer.Hint(hint))

	return strings.Join(sections, "\n") + "\n"
}

// Items returns the rows currently held by the view.
func (m Model) Items() []models.Email {
	return m.items
}

// TriggerEnabled reports whether the fetch key is live.
func (m Model) TriggerEnabled() bool {
	return m.triggerEnabled
}

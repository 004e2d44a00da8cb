package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vrsandeep/mailpulse/internal/observer"
)

// ProgramListener forwards observer updates into a running tea.Program.
type ProgramListener struct {
	program atomic.Pointer[tea.Program]
}

// SetProgram stores the program so updates from the observer loop reach the
// Update loop. Updates before SetProgram are dropped.
func (l *ProgramListener) SetProgram(p *tea.Program) {
	l.program.Store(p)
}

// OnUpdate implements observer.Listener.
func (l *ProgramListener) OnUpdate(u observer.Update) {
	if p := l.program.Load(); p != nil {
		p.Send(updateMsg(u))
	}
}

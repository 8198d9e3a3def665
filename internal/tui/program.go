package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Program wraps a running bubbletea program, exposing the small surface
// the scheduler's Manager needs: add/remove a page per active job, set the
// top overview page, and force a render tick. All calls are safe from any
// goroutine — they go through tea.Program.Send, the same channel
// bubbletea itself uses to deliver input.
type Program struct {
	tp *tea.Program
}

// New builds the bubbletea program and returns a handle to it without
// starting it. Call Start to run it; Start blocks until the user quits
// (q / Ctrl-C) or Quit is called.
func New() *Program {
	m := newModel()
	tp := tea.NewProgram(m, tea.WithAltScreen())
	return &Program{tp: tp}
}

// Start runs the bubbletea event loop; it blocks until the program exits.
// Callers typically run this in its own goroutine.
func (p *Program) Start() error {
	_, err := p.tp.Run()
	return err
}

func (p *Program) AddPage(id string, render func() string) {
	p.tp.Send(addPageMsg{id: id, render: render})
}

func (p *Program) RemovePage(id string) {
	p.tp.Send(removePageMsg{id: id})
}

func (p *Program) SetTopPage(render func() string) {
	p.tp.Send(setTopMsg{render: render})
}

// Render is a no-op for the bubbletea host: the runtime's own event loop
// already redraws on every message, so the manager's render-while-sleeping
// busy loop (kept from the curses original's render() cadence) has
// nothing extra to do here beyond existing to satisfy scheduler.PageHost.
func (p *Program) Render() {}

func (p *Program) Quit() {
	p.tp.Quit()
}

// Package tui is a paged terminal display built on bubbletea, replacing
// the curses-based pager in display.py. Pages are added/removed
// externally (the manager calls Program.AddPage/RemovePage as jobs start
// and finish) rather than driven by the model's own Update loop, so the
// model only reacts to key presses and to page-mutation messages sent in
// from outside via Program.Send.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

const topPageID = ""

type page struct {
	id     string
	render func() string
	offset int
}

type model struct {
	order   []string // page ids, in display order; order[0] is always topPageID
	pages   map[string]*page
	current int
	width   int
	height  int
}

func newModel() *model {
	top := &page{id: topPageID, render: func() string { return "" }}
	return &model{
		order:   []string{topPageID},
		pages:   map[string]*page{topPageID: top},
		current: 0,
	}
}

func (m *model) Init() tea.Cmd { return nil }

type addPageMsg struct {
	id     string
	render func() string
}

type removePageMsg struct{ id string }

type setTopMsg struct{ render func() string }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case setTopMsg:
		m.pages[topPageID].render = msg.render
		return m, nil

	case addPageMsg:
		m.order = append(m.order, msg.id)
		m.pages[msg.id] = &page{id: msg.id, render: msg.render}
		return m, nil

	case removePageMsg:
		delete(m.pages, msg.id)
		for i, id := range m.order {
			if id == msg.id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		if m.current >= len(m.order) {
			m.current = len(m.order) - 1
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cur := m.pages[m.order[m.current]]
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up":
		if cur.offset > 0 {
			cur.offset--
		}
	case "down":
		cur.offset++
	case "pgup":
		cur.offset -= max(1, m.height-1)
		if cur.offset < 0 {
			cur.offset = 0
		}
	case "pgdown":
		cur.offset += max(1, m.height-1)
	case "left":
		m.current = (m.current - 1 + len(m.order)) % len(m.order)
	case "right":
		m.current = (m.current + 1) % len(m.order)
	}
	return m, nil
}

func (m *model) View() string {
	if len(m.order) == 0 {
		return ""
	}
	cur := m.pages[m.order[m.current]]
	content := cur.render()
	lines := wrapLines(content, max(1, m.width))

	if cur.offset > len(lines) {
		cur.offset = len(lines)
	}

	header := formatHeader(m.current+1, len(m.order), cur.offset, len(lines))
	body := ""
	end := cur.offset + max(0, m.height-1)
	if end > len(lines) {
		end = len(lines)
	}
	for i := cur.offset; i < end; i++ {
		body += lines[i] + "\n"
	}
	return header + "\n" + body
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package tui renders a live terminal dashboard of observed players. It
// is a second, local consumer of the same broadcast.Hub the websocket
// transport serves — enabled with a flag, it never changes what the
// observation loop computes, only how one more client displays it.
package tui

import (
	"context"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashgrove/cs2obs/internal/broadcast"
	"github.com/ashgrove/cs2obs/internal/gameobserver"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

var baseStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.NormalBorder()).
	BorderForeground(lipgloss.Color("240"))

type batchMsg []gameobserver.Player

// Model is the bubbletea model driving the dashboard. Construct it
// with New and hand it to tea.NewProgram.
type Model struct {
	hub   *broadcast.Hub
	feed  <-chan []gameobserver.Player
	table table.Model
}

// New returns a Model subscribed to hub. Call Run to start rendering.
func New(hub *broadcast.Hub) Model {
	columns := []table.Column{
		{Title: "Name", Width: 20},
		{Title: "Team", Width: 14},
		{Title: "HP", Width: 4},
		{Title: "Armor", Width: 6},
		{Title: "Weapon", Width: 18},
		{Title: "Ping", Width: 5},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(20),
	)
	t.SetStyles(table.Styles{
		Header: headerStyle,
		Cell:   lipgloss.NewStyle(),
	})

	return Model{hub: hub, table: t}
}

// Run subscribes to the hub and blocks running the bubbletea program
// until the user quits or ctx is cancelled.
func Run(ctx context.Context, hub *broadcast.Hub) error {
	m := New(hub)
	m.feed = hub.Subscribe(ctx)

	p := tea.NewProgram(m, tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.listen()
}

func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		batch, ok := <-m.feed
		if !ok {
			return nil
		}
		return batchMsg(batch)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case batchMsg:
		m.table.SetRows(rowsFor(msg))
		return m, m.listen()
	}
	return m, nil
}

func (m Model) View() string {
	return baseStyle.Render(m.table.View()) + "\n(q to quit)\n"
}

func rowsFor(players []gameobserver.Player) []table.Row {
	rows := make([]table.Row, 0, len(players))
	for _, p := range players {
		weapon := p.Weapon
		if weapon == "" {
			weapon = "Unknown"
		}
		rows = append(rows, table.Row{
			p.Name,
			p.Team.String(),
			strconv.Itoa(int(p.Health)),
			strconv.Itoa(int(p.Armor)),
			weapon,
			strconv.Itoa(int(p.Ping)),
		})
	}
	return rows
}

// Package tui renders the live warehouse dashboard in the terminal:
// connection state, fleet statistics, the recent scan feed, and active
// inventory alerts.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mistakeknot/warewatch/client"
	"github.com/mistakeknot/warewatch/internal/alerts"
	"github.com/mistakeknot/warewatch/internal/core"
	"github.com/mistakeknot/warewatch/internal/monitor"
	"github.com/mistakeknot/warewatch/internal/reconcile"
)

const refreshInterval = time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	critStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	alertStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)
	pausedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the bubbletea model for the dashboard view.
type Model struct {
	session *monitor.Session

	scans  table.Model
	model  reconcile.Model
	state  client.ConnState
	alerts []alerts.Alert
	width  int
}

func NewModel(session *monitor.Session) Model {
	columns := []table.Column{
		{Title: "Time", Width: 8},
		{Title: "Robot", Width: 8},
		{Title: "Cell", Width: 6},
		{Title: "Product", Width: 24},
		{Title: "Qty", Width: 5},
		{Title: "Status", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(12),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return Model{session: session, scans: t}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			if m.session.Paused() {
				m.session.Resume()
			} else {
				m.session.Pause()
			}
			return m, nil
		case "d":
			if len(m.alerts) > 0 {
				m.session.Dismiss(m.alerts[0].ID)
			}
			return m, nil
		}
	case tickMsg:
		m.refresh()
		return m, tick()
	}
	var cmd tea.Cmd
	m.scans, cmd = m.scans.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	m.model = m.session.View()
	m.state = m.session.ConnState()
	m.alerts = m.session.Alerts()

	rows := make([]table.Row, 0, len(m.model.RecentScans))
	for _, s := range m.model.RecentScans {
		rows = append(rows, table.Row{
			s.Time.Local().Format("15:04:05"),
			s.RobotID,
			fmt.Sprintf("%s%d", s.Zone, s.Row),
			s.Product,
			fmt.Sprintf("%d", s.Quantity),
			string(s.Status),
		})
	}
	m.scans.SetRows(rows)
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("warewatch"))
	b.WriteString("  ")
	b.WriteString(connStateView(m.state))
	if m.session.Paused() {
		b.WriteString("  ")
		b.WriteString(pausedStyle.Render("PAUSED"))
	}
	b.WriteString("\n\n")

	b.WriteString(statsView(m.model.Stats))
	b.WriteString("\n\n")

	b.WriteString(m.scans.View())
	b.WriteString("\n")

	if len(m.alerts) > 0 {
		b.WriteString("\n")
		b.WriteString(alertsView(m.alerts))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("p pause  d dismiss alert  q quit"))
	b.WriteString("\n")
	return b.String()
}

func connStateView(state client.ConnState) string {
	label := state.Label()
	switch state {
	case client.StateConnected:
		return okStyle.Render("● " + label)
	case client.StateConnecting, client.StateReconnecting:
		return warnStyle.Render("● " + label)
	default:
		return critStyle.Render("● " + label)
	}
}

func statsView(stats core.Stats) string {
	parts := []string{
		fmt.Sprintf("robots %d/%d", stats.ActiveRobots, stats.TotalRobots),
		fmt.Sprintf("checked today %d", stats.CheckedToday),
		fmt.Sprintf("avg battery %d%%", stats.AvgBattery),
	}
	line := strings.Join(parts, dimStyle.Render("  │  "))
	if stats.CriticalStock > 0 {
		line += dimStyle.Render("  │  ") + critStyle.Render(fmt.Sprintf("critical %d", stats.CriticalStock))
	} else {
		line += dimStyle.Render("  │  critical 0")
	}
	return line
}

func alertsView(active []alerts.Alert) string {
	lines := make([]string, 0, len(active))
	for _, a := range active {
		lines = append(lines, fmt.Sprintf("%s  %s in zone %s (%d left)",
			a.CreatedAt.Local().Format("15:04:05"), a.Product, a.Zone, a.Quantity))
	}
	header := critStyle.Render(fmt.Sprintf("INVENTORY ALERTS (%d)", len(active)))
	return alertStyle.Render(header + "\n" + strings.Join(lines, "\n"))
}

// Run starts the dashboard program and blocks until the user quits.
func Run(session *monitor.Session) error {
	p := tea.NewProgram(NewModel(session), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

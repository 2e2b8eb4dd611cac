package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/theme"
)

// LoadedMsg carries the dashboard data for the signed-in user. Err is set
// when the summary could not be fetched.
type LoadedMsg struct {
	User       *model.User
	Summary    *model.DashboardSummary
	Workspaces []model.Workspace
	Err        error
}

// Model is the dashboard view: the user's counters and workspaces.
type Model struct {
	user       *model.User
	summary    *model.DashboardSummary
	workspaces []model.Workspace
	err        string
	loading    bool
	width      int
	height     int
}

// New creates a dashboard view model.
func New(width, height int) Model {
	return Model{loading: true, width: width, height: height}
}

// SetLoading marks the view as waiting for data.
func (m *Model) SetLoading() {
	m.loading = true
	m.err = ""
}

// SetData shows the loaded dashboard.
func (m *Model) SetData(msg LoadedMsg) {
	m.loading = false
	if msg.User != nil {
		m.user = msg.User
	}
	m.summary = msg.Summary
	m.workspaces = msg.Workspaces
	m.err = ""
}

// SetError shows msg in place of the counters.
func (m *Model) SetError(msg string) {
	m.loading = false
	m.err = msg
}

// Reset forgets everything shown, e.g. on logout.
func (m *Model) Reset() {
	*m = New(m.width, m.height)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// View renders the dashboard.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)

	var b strings.Builder
	if m.user != nil {
		b.WriteString(titleStyle.Render("Welcome, " + m.user.DisplayName()))
		b.WriteString("\n\n")
	}

	switch {
	case m.err != "":
		b.WriteString(theme.ErrorStyle.Render(m.err))
	case m.loading || m.summary == nil:
		b.WriteString(theme.HelpStyle.Render("Loading dashboard..."))
	default:
		b.WriteString(m.renderCounters())
		b.WriteString("\n\n")
		b.WriteString(titleStyle.Render("Workspaces"))
		b.WriteString("\n")
		b.WriteString(m.renderWorkspaces())
	}

	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (m Model) renderCounters() string {
	s := m.summary
	cell := func(label string, value int, color lipgloss.TerminalColor) string {
		return theme.PanelStyle.
			Padding(0, 2).
			Render(lipgloss.JoinVertical(lipgloss.Center,
				lipgloss.NewStyle().Bold(true).Foreground(color).Render(fmt.Sprint(value)),
				theme.DimmedStyle.Render(label),
			))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		cell("workspaces", s.WorkspaceCount, theme.ColorBlue),
		cell("tasks", s.TaskCount, theme.ColorYellow),
		cell("completed", s.CompletedTaskCount, theme.ColorGreen),
		cell("unread", s.UnreadNotifications, theme.ColorMagenta),
	)
}

func (m Model) renderWorkspaces() string {
	if len(m.workspaces) == 0 {
		return theme.HelpStyle.Render("No workspaces yet.")
	}
	lines := make([]string, len(m.workspaces))
	for i, w := range m.workspaces {
		line := "• " + w.Name
		if w.Description != "" {
			line += theme.DimmedStyle.Render("  " + w.Description)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

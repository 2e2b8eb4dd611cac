package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/theme"
)

// CommandMsg is emitted when the user executes a command.
type CommandMsg string

// Command is an entry of the palette.
type Command struct {
	Name        string
	Description string
}

// Commands lists the palette commands, in help order.
var Commands = []Command{
	{Name: "dashboard", Description: "show the dashboard"},
	{Name: "notifications", Description: "show unread notifications"},
	{Name: "refresh", Description: "refetch the unread list and count"},
	{Name: "logout", Description: "sign out and disconnect"},
	{Name: "help", Description: "show key bindings"},
	{Name: "quit", Description: "exit"},
}

// Model is the command palette view.
type Model struct {
	input textinput.Model
	width int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	names := make([]string, len(Commands))
	for i, c := range Commands {
		names[i] = c.Name
	}
	ti.SetSuggestions(names)
	ti.Focus()

	m := Model{input: ti}
	m.SetSize(width, height)
	return m
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		cmd := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if cmd == "" {
			return m, nil
		}
		return m, func() tea.Msg { return CommandMsg(cmd) }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Command Palette")

	return theme.PanelStyle.
		Width(max(m.width-4, 0)).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, m.input.View()))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, _ int) {
	m.width = width
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.input.Reset()
	return m.input.Focus()
}

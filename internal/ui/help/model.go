package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/keys"
	"github.com/nhle/insync/internal/theme"
	"github.com/nhle/insync/internal/ui/command"
)

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.ShowAll = true
	m := Model{keys: keys, help: h}
	m.SetSize(width, height)
	return m
}

// View renders the key bindings followed by the palette commands.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	var cmds strings.Builder
	for _, c := range command.Commands {
		cmds.WriteString(":" + c.Name)
		cmds.WriteString(strings.Repeat(" ", max(1, 16-len(c.Name))))
		cmds.WriteString(theme.HelpStyle.Render(c.Description))
		cmds.WriteString("\n")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		titleStyle.Render("Commands"),
		strings.TrimRight(cmds.String(), "\n"),
	)

	return theme.PanelStyle.
		Width(max(m.width-4, 0)).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}

package notifications

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/theme"
)

// maxLines is how many message lines each item shows.
const maxLines = 2

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return Title(i.Notification) }

// Title returns the "workspace - task" heading of n.
func Title(n model.Notification) string {
	switch {
	case n.WorkspaceName == "":
		return n.TaskName
	case n.TaskName == "":
		return n.WorkspaceName
	default:
		return n.WorkspaceName + " - " + n.TaskName
	}
}

// ItemDelegate implements list.ItemDelegate for notifications.
type ItemDelegate struct{}

// Height returns the number of lines each item takes: the title, the
// message lines and a footer.
func (d ItemDelegate) Height() int { return maxLines + 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 1 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	fmt.Fprint(w, Render(it.Notification, index == m.Index(), m.Width()))
}

// Render draws n in exactly ItemDelegate.Height lines.
func Render(n model.Notification, selected bool, width int) string {
	badge := theme.InitialsStyle.Render(n.CreatorInitials())
	title := lipgloss.NewStyle().Bold(true).Render(Title(n))

	lines := n.Lines()
	if len(lines) > maxLines {
		lines = append(lines[:maxLines-1:maxLines-1], lines[maxLines-1]+" …")
	}
	for len(lines) < maxLines {
		lines = append(lines, "")
	}
	for i, l := range lines {
		lines[i] = "   " + truncate(l, width-5)
	}

	footer := "   " + theme.EventStyle(n.EventType).Render(n.EventType.Label()) +
		theme.DimmedStyle.Render(" · "+n.NotifiedAt.Display())

	block := strings.Join(append([]string{badge + " " + title}, append(lines, footer)...), "\n")
	if selected {
		return theme.SelectedItemStyle.Render(block)
	}
	return lipgloss.NewStyle().PaddingLeft(2).Render(block)
}

func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r)) > width-1 {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

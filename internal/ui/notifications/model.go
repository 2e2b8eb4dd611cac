package notifications

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/keys"
	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/theme"
)

// MarkReadMsg is sent when the user asks to mark the selected
// notification read.
type MarkReadMsg struct {
	ID string
}

// Model is the unread notification list view.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	count  int
	loaded bool
	err    string
	width  int
	height int
}

// New creates a new notification list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Unread notifications"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetItems replaces the list contents. items are newest first and count
// is the server's unread count, which may exceed len(items).
func (m *Model) SetItems(items []model.Notification, count int) tea.Cmd {
	m.loaded = true
	m.err = ""
	m.count = count

	li := make([]list.Item, len(items))
	for i, n := range items {
		li[i] = Item{Notification: n}
	}
	m.list.Title = fmt.Sprintf("Unread notifications (%d)", count)
	return m.list.SetItems(li)
}

// SetError shows msg above the list until the next SetItems.
func (m *Model) SetError(msg string) {
	m.err = msg
}

// Selected returns the highlighted notification.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// Len returns the number of listed notifications.
func (m Model) Len() int {
	return len(m.list.Items())
}

// Update handles messages for the notification list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.MarkRead) {
		n, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg { return MarkReadMsg{ID: n.ID} }
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the notification list.
func (m Model) View() string {
	var top string
	if m.err != "" {
		top = theme.ErrorStyle.Render(m.err) + "\n"
	}

	switch {
	case !m.loaded:
		return top + theme.HelpStyle.Render("Loading notifications...")
	case m.Len() == 0:
		return top + lipgloss.NewStyle().Padding(1, 2).Render(
			theme.HelpStyle.Render("No unread notifications."),
		)
	}
	return top + m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-1)
}

package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/model"
	"github.com/nhle/insync/internal/realtime"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// PanelStyle wraps bordered content areas such as help and the palette.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// DimmedStyle renders secondary text such as timestamps.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// ToastStyle renders the transient new-notification banner.
var ToastStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorGreen).
	Padding(0, 1)

// ErrorStyle renders error lines.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(ColorRed)

// SuccessStyle renders confirmation lines.
var SuccessStyle = lipgloss.NewStyle().
	Foreground(ColorGreen)

// InitialsStyle renders the creator badge in front of a notification.
var InitialsStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorMagenta).
	Padding(0, 1)

// EventStyle returns a color-coded style for the given event type.
func EventStyle(e model.EventType) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch e {
	case model.EventTaskCreated, model.EventTaskAssigned:
		return base.Foreground(ColorBlue)
	case model.EventTaskCompleted:
		return base.Foreground(ColorGreen)
	case model.EventTaskDueSoon:
		return base.Foreground(ColorOrange)
	case model.EventTaskDeleted, model.EventTaskUnassigned:
		return base.Foreground(ColorRed)
	case model.EventTaskUpdated, model.EventTaskStatusChanged:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}

// ChannelStyle returns the header style for a realtime channel state.
func ChannelStyle(s realtime.State) lipgloss.Style {
	base := HeaderStyle

	switch s {
	case realtime.Open:
		return base.Foreground(ColorGreen)
	case realtime.Connecting:
		return base.Foreground(ColorYellow)
	case realtime.ClosedError:
		return base.Foreground(ColorRed)
	default:
		return base
	}
}

package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/insync/internal/theme"
)

// Layout manages the terminal frame: a header line, an optional banner
// line, the content area and a status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	BannerHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// The header, banner and status bar each take one line.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		BannerHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height left for the active view.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.BannerHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the title on the left and the given segments,
// already styled, on the right.
func (l Layout) RenderHeader(title string, segments ...string) string {
	titleRendered := theme.HeaderStyle.Render(title)
	right := lipgloss.JoinHorizontal(lipgloss.Top, segments...)

	gap := l.Width - lipgloss.Width(titleRendered) - lipgloss.Width(right)
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		fill(gap, theme.HeaderStyle),
		right,
	)
}

// RenderBanner renders a one-line banner, or a blank line when text is
// empty so the frame does not jump.
func (l Layout) RenderBanner(text string) string {
	if text == "" {
		return strings.Repeat(" ", max(l.Width, 0))
	}
	return theme.ToastStyle.Render(text)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)
	gap := l.Width - lipgloss.Width(rendered)
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, fill(gap, theme.StatusBarStyle))
}

// RenderWithFrame stacks header, banner, content and status bar.
func (l Layout) RenderWithFrame(header, banner, content, statusBar string) string {
	content = lipgloss.NewStyle().Height(l.ContentHeight()).Render(content)
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		banner,
		content,
		statusBar,
	)
}

func fill(width int, style lipgloss.Style) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Width(width).
		Background(style.GetBackground()).
		Render("")
}

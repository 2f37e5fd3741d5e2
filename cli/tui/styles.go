// Package tui provides Bubble Tea views for the despacho CLI.
//
// The orders board is the only interactive view that writes: its toggles
// go through the same service calls as the rest of the CLI. The status
// view is read-only.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(22)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	InfoStyle = lipgloss.NewStyle().
			Foreground(highlightColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// StateStyle returns a style for an order or connection state.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "delivered", "paid", "online":
		return SuccessStyle
	case "received", "pending":
		return WarningStyle
	case "offline", "failed":
		return ErrorStyle
	default:
		return ValueStyle
	}
}

// LevelStyle returns a style for a notification level.
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "success":
		return SuccessStyle
	case "error":
		return ErrorStyle
	case "info":
		return InfoStyle
	default:
		return ValueStyle
	}
}

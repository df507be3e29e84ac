package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorPrimary   = lipgloss.Color("#7AA2F7")
	colorAccent    = lipgloss.Color("#FF9E64")
	colorMuted     = lipgloss.Color("#666666")
	colorError     = lipgloss.Color("#E74C3C")
	colorFg        = lipgloss.Color("#C0CAF5")
	colorSubtle    = lipgloss.Color("#414868")
	colorRipple    = lipgloss.Color("#2A2F45")
	colorRippleOut = lipgloss.Color("#20232F")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	stateStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(0, 1)

	dayStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	timeStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(timeWidth)

	summaryStyle = lipgloss.NewStyle().
			Foreground(colorFg)

	locationStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	holdStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)
)

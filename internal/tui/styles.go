package tui

import "github.com/charmbracelet/lipgloss"

// Dark theme colors
var (
	bgPanelColor      = lipgloss.Color("#141414")
	borderSubtleColor = lipgloss.Color("#3c3c3c")

	primaryColor   = lipgloss.Color("#fab283") // warm peach
	secondaryColor = lipgloss.Color("#5c9cf5") // blue
	accentColor    = lipgloss.Color("#9d7cd8") // purple

	errorColor   = lipgloss.Color("#e06c75")
	warningColor = lipgloss.Color("#f5a742")
	successColor = lipgloss.Color("#7fd88f")

	textColor      = lipgloss.Color("#eeeeee")
	textMutedColor = lipgloss.Color("#808080")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(textColor).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Width(10)

	valueStyle = lipgloss.NewStyle().
			Foreground(textColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(textMutedColor)

	runningStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	panelStyle = lipgloss.NewStyle().
			Background(bgPanelColor).
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(borderSubtleColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(textMutedColor)
)

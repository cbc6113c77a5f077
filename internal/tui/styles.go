package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa")).PaddingBottom(1)
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#585b70")).Padding(0, 1)
	headingStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f5c2e7"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7f849c"))
	authorStyle   = lipgloss.NewStyle().Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	photoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#89dceb"))
	pendingStyle  = lipgloss.NewStyle().Faint(true)
	postStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lipgloss.Color("#45475a")).MarginBottom(1)
	focusedPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#89b4fa"))
)

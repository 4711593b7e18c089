package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Pane borders
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Task phases. Planning and executing share the active style.
var (
	StylePhaseActive = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true)

	StylePhaseCompleted = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42")).
				Bold(true)

	StylePhaseFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Bold(true)

	StylePhaseQueued = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))
)

var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))
)

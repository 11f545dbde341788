package ui

import "github.com/charmbracelet/lipgloss"

var (
	blurredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	statusMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFDF5")).
				Render

	errorMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF0000")).
				Render

	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

	docStyle = lipgloss.NewStyle().Padding(1, 2)
)

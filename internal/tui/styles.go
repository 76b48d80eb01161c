package tui

import "github.com/charmbracelet/lipgloss"

// styles contains the lipgloss styles used by the attach viewer.
var styles = struct {
	StatusBar   lipgloss.Style
	StatusText  lipgloss.Style
	Error       lipgloss.Style
	Detached    lipgloss.Style
	FocusBorder lipgloss.Style
}{
	StatusBar: lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("252")),

	StatusText: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Error: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196")),

	Detached: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	FocusBorder: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")),
}

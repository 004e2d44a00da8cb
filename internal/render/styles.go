package render

import "github.com/charmbracelet/lipgloss"

// Styles used by the renderer.
type Styles struct {
	Header lipgloss.Style
	Info   lipgloss.Style
	Notice lipgloss.Style
	Cell   lipgloss.Style
	Muted  lipgloss.Style
}

// DefaultStyles returns the palette used by mailwatch.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true),
		Info: lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")),
		Notice: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		Cell:  lipgloss.NewStyle(),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	accentColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	fgColor        = lipgloss.Color("#F9FAFB") // Light

	AppStyle    = lipgloss.NewStyle().Padding(1, 2)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1)

	// Change list (left side)
	ListPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(mutedColor).Padding(0, 1)

	// Change detail (right side)
	DetailPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primaryColor).Padding(1, 2)

	SelectedItemStyle = lipgloss.NewStyle().Background(primaryColor).Foreground(fgColor).Bold(true).Padding(0, 1)
	ResolvedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#52525B")).Faint(true).Padding(0, 1)
	NormalItemStyle   = lipgloss.NewStyle().Foreground(fgColor).Padding(0, 1)
	TimeStyle         = lipgloss.NewStyle().Foreground(secondaryColor).Width(13)
	DeletedBadgeStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true).Width(4)
	MovedBadgeStyle   = lipgloss.NewStyle().Foreground(accentColor).Bold(true).Width(4)

	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1)
	LabelStyle  = lipgloss.NewStyle().Foreground(accentColor).Bold(true).Width(12)
	ValueStyle  = lipgloss.NewStyle().Foreground(fgColor)
	ActionStyle = lipgloss.NewStyle().Foreground(secondaryColor).Italic(true)
	ErrorStyle  = lipgloss.NewStyle().Foreground(errorColor)

	HelpStyle    = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)
	HelpKeyStyle = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	StatusStyle  = lipgloss.NewStyle().Foreground(secondaryColor)
)

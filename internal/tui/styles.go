package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
)

var (
	Accent = lipgloss.Color("#00D4FF")
	Subtle = lipgloss.Color("#555555")
	Green  = lipgloss.Color("#04B575")
	Yellow = lipgloss.Color("#E0AF68")
	Red    = lipgloss.Color("#FF4444")

	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	AgentLabel = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	UserLabel  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AAAAAA"))
	ErrStyle   = lipgloss.NewStyle().Foreground(Red)
	OkStyle    = lipgloss.NewStyle().Foreground(Green).Bold(true)
	WarnStyle  = lipgloss.NewStyle().Foreground(Yellow)
	DimStyle   = lipgloss.NewStyle().Foreground(Subtle)
	PriceStyle = lipgloss.NewStyle().Foreground(Green)
)

// StatusBadge renders the connection state for the header.
func StatusBadge(state domain.ConnectionState, fallback bool) string {
	if fallback {
		return WarnStyle.Render("● fallback")
	}
	switch state {
	case domain.StateConnected:
		return OkStyle.Render("● live")
	case domain.StateConnecting, domain.StateReconnecting:
		return WarnStyle.Render("● " + string(state))
	case domain.StateError:
		return ErrStyle.Render("● error")
	default:
		return DimStyle.Render("● offline")
	}
}

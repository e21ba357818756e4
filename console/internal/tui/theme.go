// Package tui holds the console's shared lipgloss theme.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary = lipgloss.Color("#0EA5E9")
	ColorReply   = lipgloss.Color("#14B8A6")
	ColorUser    = lipgloss.Color("#F59E0B")
	ColorOK      = lipgloss.Color("#10B981")
	ColorWarn    = lipgloss.Color("#F59E0B")
	ColorError   = lipgloss.Color("#EF4444")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorFaint   = lipgloss.Color("#9CA3AF")
	ColorPlain   = lipgloss.Color("#E5E7EB")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	Title       = fg(ColorPrimary).Bold(true)
	Description = fg(ColorFaint)
	Dimmed      = fg(ColorMuted)
	Help        = fg(ColorMuted)
	ErrorStyle  = fg(ColorError)

	UserLabel  = fg(ColorUser).Bold(true)
	AgentLabel = fg(ColorReply).Bold(true)
	// Streaming marks a reply that is still arriving.
	Streaming = fg(ColorFaint).Italic(true)
)

// stateColor maps gateway session state labels to their indicator color.
var stateColor = map[string]lipgloss.Color{
	"connected":    ColorOK,
	"connecting":   ColorWarn,
	"reconnecting": ColorWarn,
}

func colorFor(state string) lipgloss.Color {
	if c, ok := stateColor[state]; ok {
		return c
	}
	return ColorError
}

// StatusDot returns a colored dot for a session state.
func StatusDot(state string) string {
	return fg(colorFor(state)).Render("●")
}

// StatusText returns the colored state label.
func StatusText(state string) string {
	if state == "" {
		state = "disconnected"
	}
	return fg(colorFor(state)).Render(state)
}

var levelColor = map[string]lipgloss.Color{
	"DEBUG": ColorMuted,
	"INFO":  ColorOK,
	"WARN":  ColorWarn,
	"ERROR": ColorError,
}

// LogLevelStyle returns a style for an slog level name.
func LogLevelStyle(level string) lipgloss.Style {
	if c, ok := levelColor[level]; ok {
		return fg(c)
	}
	return fg(ColorPlain)
}

package ui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/zsprackett/gtdash/internal/feed"
)

// Theme colors for the TUI.
var (
	ColorBackground      = tcell.NewHexColor(0x1e1e2e)
	ColorBackgroundPanel = tcell.NewHexColor(0x181825)
	ColorBackgroundElem  = tcell.NewHexColor(0x313244)
	ColorPrimary         = tcell.NewHexColor(0x89b4fa) // blue
	ColorAccent          = tcell.NewHexColor(0xcba6f7) // mauve
	ColorText            = tcell.NewHexColor(0xcdd6f4)
	ColorTextMuted       = tcell.NewHexColor(0x6c7086)
	ColorSuccess         = tcell.NewHexColor(0xa6e3a1) // green
	ColorWarning         = tcell.NewHexColor(0xf9e2af) // yellow
	ColorError           = tcell.NewHexColor(0xf38ba8) // red
	ColorBorder          = tcell.NewHexColor(0x45475a)
	ColorSelected        = tcell.NewHexColor(0x89b4fa)
	ColorSelectedText    = tcell.NewHexColor(0x1e1e2e)
)

// Severity and connection icons
const (
	IconInfo     = "·"
	IconSuccess  = "✓"
	IconWarning  = "▲"
	IconCritical = "✗"
	IconUp       = "●"
	IconDown     = "○"
)

func SeverityIcon(severity string) (string, tcell.Color) {
	switch severity {
	case feed.SeveritySuccess:
		return IconSuccess, ColorSuccess
	case feed.SeverityWarning:
		return IconWarning, ColorWarning
	case feed.SeverityCritical:
		return IconCritical, ColorError
	default:
		return IconInfo, ColorText
	}
}

// TypeColor picks the color of an event's type column.
func TypeColor(typ string) tcell.Color {
	switch typ {
	case feed.TypeAlert:
		return ColorError
	case feed.TypeChat:
		return ColorAccent
	case feed.TypeLog:
		return ColorTextMuted
	default:
		return ColorPrimary
	}
}

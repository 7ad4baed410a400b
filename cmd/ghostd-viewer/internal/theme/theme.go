package theme

import (
	"image/color"
	"runtime"

	"gioui.org/unit"
	"gioui.org/widget/material"
)

// Palette defines the viewer colors.
type Palette struct {
	Background color.NRGBA
	Surface    color.NRGBA
	Panel      color.NRGBA
	Primary    color.NRGBA
	Ghost      color.NRGBA // the overlay's own text color, echoed in the UI
	Text       color.NRGBA
	TextMuted  color.NRGBA
	Border     color.NRGBA
	Success    color.NRGBA
	Error      color.NRGBA
	Warning    color.NRGBA
}

// Config defines the viewer metrics.
type Config struct {
	CornerRadius unit.Dp
	Spacing      unit.Dp
	Padding      unit.Dp
	FontTitle    unit.Sp
	FontBody     unit.Sp
	FontCaption  unit.Sp
	FontMono     unit.Sp
}

// Theme wraps the material theme with viewer styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// NewTheme creates a theme styled for the current OS.
func NewTheme(mtheme *material.Theme) *Theme {
	t := &Theme{
		Theme: mtheme,
	}

	if runtime.GOOS == "darwin" {
		setupMacOSTheme(t)
	} else {
		setupDefaultTheme(t)
	}

	return t
}

func setupDefaultTheme(t *Theme) {
	// Dark palette with a muted violet accent.
	t.Palette = Palette{
		Background: color.NRGBA{R: 0x1B, G: 0x1B, B: 0x1F, A: 0xFF},
		Surface:    color.NRGBA{R: 0x24, G: 0x24, B: 0x29, A: 0xFF},
		Panel:      color.NRGBA{R: 0x2C, G: 0x2C, B: 0x33, A: 0xFF},
		Primary:    color.NRGBA{R: 0x8A, G: 0x7C, B: 0xE8, A: 0xFF},
		Ghost:      color.NRGBA{R: 0x8E, G: 0x8E, B: 0x93, A: 0xFF},
		Text:       color.NRGBA{R: 0xEC, G: 0xEC, B: 0xEE, A: 0xFF},
		TextMuted:  color.NRGBA{R: 0x9A, G: 0x9A, B: 0xA2, A: 0xFF},
		Border:     color.NRGBA{R: 0x3C, G: 0x3C, B: 0x44, A: 0xFF},
		Success:    color.NRGBA{R: 0x4C, G: 0xC3, B: 0x7A, A: 0xFF},
		Error:      color.NRGBA{R: 0xE5, G: 0x53, B: 0x4B, A: 0xFF},
		Warning:    color.NRGBA{R: 0xE8, G: 0xB0, B: 0x3E, A: 0xFF},
	}

	t.Config = Config{
		CornerRadius: unit.Dp(6),
		Spacing:      unit.Dp(8),
		Padding:      unit.Dp(16),
		FontTitle:    unit.Sp(20),
		FontBody:     unit.Sp(14),
		FontCaption:  unit.Sp(12),
		FontMono:     unit.Sp(13),
	}
}

func setupMacOSTheme(t *Theme) {
	setupDefaultTheme(t)

	// macOS gets the larger corner radius and tighter type it expects.
	t.Config.CornerRadius = unit.Dp(10)
	t.Config.Padding = unit.Dp(20)
	t.Config.FontBody = unit.Sp(13)
	t.Config.FontCaption = unit.Sp(11)
}

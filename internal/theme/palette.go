package theme

import "strings"

// Mode is a named presentation preset.
type Mode string

const (
	Light Mode = "light"
	Dark  Mode = "dark"

	// Default is applied by the sandbox to every rendered figure.
	Default = Light
)

// ParseMode maps user input to a mode; anything unrecognised is light.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Dark):
		return Dark
	default:
		return Light
	}
}

// Palette holds the cosmetic values written into a figure layout.
type Palette struct {
	Paper      string
	Plot       string
	Text       string
	MutedText  string
	Grid       string
	Line       string
	ZeroLine   string
	LegendBG   string
	LegendEdge string
	HoverBG    string
	FontFamily string
	FontSize   float64
	Colorway   []string
}

var (
	LightPalette = Palette{
		Paper:      "#ffffff",
		Plot:       "#ffffff",
		Text:       "#0f172a",
		MutedText:  "#475569",
		Grid:       "#e2e8f0",
		Line:       "#cbd5e1",
		ZeroLine:   "#94a3b8",
		LegendBG:   "rgba(255,255,255,0.85)",
		LegendEdge: "#e2e8f0",
		HoverBG:    "#ffffff",
		FontFamily: "Inter, Segoe UI, Arial, sans-serif",
		FontSize:   12,
		Colorway: []string{
			"#1d4ed8", "#dc2626", "#059669", "#d97706", "#7c3aed",
			"#0891b2", "#db2777", "#65a30d", "#4b5563", "#ea580c",
		},
	}

	DarkPalette = Palette{
		Paper:      "#0b1220",
		Plot:       "#0b1220",
		Text:       "#e2e8f0",
		MutedText:  "#94a3b8",
		Grid:       "#1e293b",
		Line:       "#334155",
		ZeroLine:   "#475569",
		LegendBG:   "rgba(11,18,32,0.85)",
		LegendEdge: "#1e293b",
		HoverBG:    "#1e293b",
		FontFamily: "Inter, Segoe UI, Arial, sans-serif",
		FontSize:   12,
		Colorway: []string{
			"#60a5fa", "#f87171", "#34d399", "#fbbf24", "#a78bfa",
			"#22d3ee", "#f472b6", "#a3e635", "#9ca3af", "#fb923c",
		},
	}
)

// PaletteFor returns the palette of a mode.
func PaletteFor(mode Mode) Palette {
	if mode == Dark {
		return DarkPalette
	}
	return LightPalette
}

// Package theme rewrites the cosmetic fields of a normalized figure to a
// fixed light or dark palette. Trace data is never modified.
package theme

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/HTF1125/investment-x-sub000/internal/figure"
)

var axisKey = regexp.MustCompile(`^[xy]axis\d*$`)

// Apply returns a themed deep copy of fig. The input is not modified.
// Applying the same mode twice gives the same result as applying it once.
func Apply(fig map[string]any, mode Mode) map[string]any {
	p := PaletteFor(mode)

	out, _ := deepCopy(fig).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	if _, ok := out["data"].([]any); !ok {
		out["data"] = []any{}
	}

	layout := child(out, "layout")

	layout["paper_bgcolor"] = p.Paper
	layout["plot_bgcolor"] = p.Plot

	colorway := make([]any, len(p.Colorway))
	for i, c := range p.Colorway {
		colorway[i] = c
	}
	layout["colorway"] = colorway

	font := child(layout, "font")
	font["color"] = p.Text
	font["family"] = p.FontFamily
	if _, ok := font["size"]; !ok {
		font["size"] = p.FontSize
	}

	title := titleOf(layout)
	child(title, "font")["color"] = p.Text

	legend := child(layout, "legend")
	legend["bgcolor"] = p.LegendBG
	legend["bordercolor"] = p.LegendEdge
	child(legend, "font")["color"] = p.Text

	hover := child(layout, "hoverlabel")
	hover["bgcolor"] = p.HoverBG
	child(hover, "font")["color"] = p.Text

	// Every figure gets at least the primary x and y axes styled.
	child(layout, "xaxis")
	child(layout, "yaxis")
	for key, v := range layout {
		if !axisKey.MatchString(key) {
			continue
		}
		axis, ok := v.(map[string]any)
		if !ok {
			axis = map[string]any{}
			layout[key] = axis
		}
		styleAxis(axis, p)
	}

	if annotations, ok := layout["annotations"].([]any); ok {
		for _, a := range annotations {
			ann, ok := a.(map[string]any)
			if !ok {
				continue
			}
			// Explicit annotation colors are kept unless a palette wrote them.
			af := child(ann, "font")
			if c, ok := af["color"]; !ok || isPaletteText(c) {
				af["color"] = p.Text
			}
		}
	}

	return out
}

func isPaletteText(c any) bool {
	s, ok := c.(string)
	return ok && (s == LightPalette.Text || s == DarkPalette.Text)
}

func styleAxis(axis map[string]any, p Palette) {
	axis["gridcolor"] = p.Grid
	axis["linecolor"] = p.Line
	axis["zerolinecolor"] = p.ZeroLine
	child(axis, "tickfont")["color"] = p.MutedText
	child(titleOf(axis), "font")["color"] = p.Text
}

// ApplyJSON themes stored figure JSON.
func ApplyJSON(raw json.RawMessage, mode Mode) (json.RawMessage, error) {
	tree, err := figure.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(Apply(tree, mode))
	if err != nil {
		return nil, fmt.Errorf("failed to encode themed figure: %w", err)
	}
	return data, nil
}

// child returns m[key] as a map, creating or replacing it when it is not one.
func child(m map[string]any, key string) map[string]any {
	if c, ok := m[key].(map[string]any); ok {
		return c
	}
	c := map[string]any{}
	m[key] = c
	return c
}

// titleOf upgrades a bare string title to the {"text": ...} form.
func titleOf(m map[string]any) map[string]any {
	if s, ok := m["title"].(string); ok {
		t := map[string]any{"text": s}
		m["title"] = t
		return t
	}
	return child(m, "title")
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

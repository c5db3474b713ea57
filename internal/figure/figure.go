package figure

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Figure is the wire shape of a stored chart: a list of traces and a layout.
type Figure struct {
	Data   []any          `json:"data"`
	Layout map[string]any `json:"layout"`
	Frames []any          `json:"frames,omitempty"`
}

// FromMap builds a figure from a normalized tree. Missing sections become empty.
func FromMap(m map[string]any) (*Figure, error) {
	f := &Figure{Data: []any{}, Layout: map[string]any{}}
	if m == nil {
		return f, nil
	}
	if data, ok := m["data"]; ok && data != nil {
		list, ok := data.([]any)
		if !ok {
			return nil, fmt.Errorf("figure data must be a list, got %T", data)
		}
		f.Data = list
	}
	if layout, ok := m["layout"]; ok && layout != nil {
		lm, ok := layout.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("figure layout must be an object, got %T", layout)
		}
		f.Layout = lm
	}
	if frames, ok := m["frames"].([]any); ok {
		f.Frames = frames
	}
	return f, nil
}

// FromJSON parses stored figure JSON. Packed arrays may be present in either
// the three-key or the shape-less form; both are decoded.
func FromJSON(raw []byte, opts ...Option) (*Figure, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty figure JSON")
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse figure JSON: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("figure JSON must be an object, got %T", v)
	}
	opts = append(opts, acceptFlatPacked())
	return FromMap(NormalizeMap(m, opts...))
}

// ToMap returns the figure as a tree with data and layout always present.
func (f *Figure) ToMap() map[string]any {
	m := map[string]any{
		"data":   f.Data,
		"layout": f.Layout,
	}
	if f.Data == nil {
		m["data"] = []any{}
	}
	if f.Layout == nil {
		m["layout"] = map[string]any{}
	}
	if len(f.Frames) > 0 {
		m["frames"] = f.Frames
	}
	return m
}

// Marshal normalizes v and encodes it as JSON.
func Marshal(v any, opts ...Option) (json.RawMessage, error) {
	data, err := json.Marshal(Normalize(v, opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to encode figure: %w", err)
	}
	return data, nil
}

// Unmarshal decodes stored figure JSON into a normalized tree.
func Unmarshal(raw []byte, opts ...Option) (map[string]any, error) {
	f, err := FromJSON(raw, opts...)
	if err != nil {
		return nil, err
	}
	return f.ToMap(), nil
}

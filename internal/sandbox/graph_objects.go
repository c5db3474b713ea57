package sandbox

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// traceKinds are the plotly trace constructors exposed on the go module.
var traceKinds = map[string]string{
	"Scatter":     "scatter",
	"Bar":         "bar",
	"Histogram":   "histogram",
	"Heatmap":     "heatmap",
	"Pie":         "pie",
	"Candlestick": "candlestick",
	"Box":         "box",
	"Table":       "table",
	"Indicator":   "indicator",
	"Waterfall":   "waterfall",
}

// graphObjects builds the go module: Figure plus one constructor per trace kind.
func graphObjects() *starlarkstruct.Module {
	members := starlark.StringDict{
		"Figure": starlark.NewBuiltin("Figure", newFigure),
	}
	for name, kind := range traceKinds {
		members[name] = traceConstructor(name, kind)
	}
	return &starlarkstruct.Module{Name: "go", Members: members}
}

// Trace is a single plotly trace built by a go.* constructor.
type Trace struct {
	props  map[string]any
	frozen bool
}

var (
	_ starlark.HasAttrs = (*Trace)(nil)
	_ starlark.HasAttrs = (*Figure)(nil)
)

func traceConstructor(name, kind string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		props := map[string]any{}
		if len(args) > 1 {
			return nil, fmt.Errorf("%s: accepts at most one positional dict", b.Name())
		}
		if len(args) == 1 {
			base, err := toGo(args[0])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			m, ok := base.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: positional argument must be a dict, got %s", b.Name(), args[0].Type())
			}
			props = m
		}
		kw, err := kwargsTree(kwargs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		mergeInto(props, kw)
		props["type"] = kind
		return &Trace{props: props}, nil
	})
}

func (t *Trace) String() string {
	return fmt.Sprintf("Trace(%v)", t.props["type"])
}
func (t *Trace) Type() string          { return "Trace" }
func (t *Trace) Freeze()               { t.frozen = true }
func (t *Trace) Truth() starlark.Bool  { return starlark.True }
func (t *Trace) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: Trace") }

func (t *Trace) Attr(name string) (starlark.Value, error) {
	switch name {
	case "update":
		return starlark.NewBuiltin("update", t.update), nil
	case "to_dict":
		return starlark.NewBuiltin("to_dict", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return toStarlark(copyTree(t.props)), nil
		}), nil
	}
	if v, ok := t.props[name]; ok {
		return toStarlark(copyTree(v)), nil
	}
	return nil, nil
}

func (t *Trace) AttrNames() []string {
	names := []string{"to_dict", "update"}
	for k := range t.props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (t *Trace) update(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if t.frozen {
		return nil, fmt.Errorf("update: cannot modify frozen Trace")
	}
	if err := mergeArgs(b.Name(), t.props, args, kwargs); err != nil {
		return nil, err
	}
	return t, nil
}

// Figure is the script-side plotly figure. Traces and layout are held as
// plain Go trees so the result needs no further conversion.
type Figure struct {
	data   []any
	layout map[string]any
	frozen bool
}

func newFigure(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data, layout starlark.Value = starlark.None, starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data?", &data, "layout?", &layout); err != nil {
		return nil, err
	}

	fig := &Figure{data: []any{}, layout: map[string]any{}}

	if data != starlark.None {
		traces, err := tracesOf(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		fig.data = traces
	}
	if layout != starlark.None {
		l, err := toGo(layout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		lm, ok := l.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: layout must be a dict, got %s", b.Name(), layout.Type())
		}
		fig.layout = lm
	}
	return fig, nil
}

// tracesOf accepts a single trace, a dict, or a list of either.
func tracesOf(v starlark.Value) ([]any, error) {
	switch v.(type) {
	case *Trace, *starlark.Dict:
		tr, err := traceOf(v)
		if err != nil {
			return nil, err
		}
		return []any{tr}, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("data must be a trace or a list of traces, got %s", v.Type())
	}
	var out []any
	iter := iterable.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		tr, err := traceOf(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func traceOf(v starlark.Value) (map[string]any, error) {
	switch t := v.(type) {
	case *Trace:
		return copyTree(t.props).(map[string]any), nil
	case *starlark.Dict:
		g, err := toGo(t)
		if err != nil {
			return nil, err
		}
		return g.(map[string]any), nil
	}
	return nil, fmt.Errorf("expected a trace, got %s", v.Type())
}

func (f *Figure) String() string        { return fmt.Sprintf("Figure(traces=%d)", len(f.data)) }
func (f *Figure) Type() string          { return "Figure" }
func (f *Figure) Freeze()               { f.frozen = true }
func (f *Figure) Truth() starlark.Bool  { return starlark.True }
func (f *Figure) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: Figure") }

var figureMethods = map[string]*starlark.Builtin{
	"add_trace":      starlark.NewBuiltin("add_trace", figAddTrace),
	"add_traces":     starlark.NewBuiltin("add_traces", figAddTraces),
	"add_annotation": starlark.NewBuiltin("add_annotation", figAppendLayout("annotations")),
	"add_shape":      starlark.NewBuiltin("add_shape", figAppendLayout("shapes")),
	"add_hline":      starlark.NewBuiltin("add_hline", figAddLine("h")),
	"add_vline":      starlark.NewBuiltin("add_vline", figAddLine("v")),
	"update_layout":  starlark.NewBuiltin("update_layout", figUpdateLayout),
	"update_xaxes":   starlark.NewBuiltin("update_xaxes", figUpdateAxes("x")),
	"update_yaxes":   starlark.NewBuiltin("update_yaxes", figUpdateAxes("y")),
	"update_traces":  starlark.NewBuiltin("update_traces", figUpdateTraces),
	"to_dict":        starlark.NewBuiltin("to_dict", figToDict),
	"to_json":        starlark.NewBuiltin("to_json", figToJSON),
}

func (f *Figure) Attr(name string) (starlark.Value, error) {
	switch name {
	case "data":
		return toStarlark(copyTree(f.data)), nil
	case "layout":
		return toStarlark(copyTree(f.layout)), nil
	}
	if m, ok := figureMethods[name]; ok {
		return m.BindReceiver(f), nil
	}
	return nil, nil
}

func (f *Figure) AttrNames() []string {
	names := []string{"data", "layout"}
	for k := range figureMethods {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// toMap returns a copy of the figure as a plain tree.
func (f *Figure) toMap() map[string]any {
	return map[string]any{
		"data":   copyTree(f.data),
		"layout": copyTree(f.layout),
	}
}

func receiver(b *starlark.Builtin) (*Figure, error) {
	f := b.Receiver().(*Figure)
	if f.frozen {
		return nil, fmt.Errorf("%s: cannot modify frozen Figure", b.Name())
	}
	return f, nil
}

func figAddTrace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	f, err := receiver(b)
	if err != nil {
		return nil, err
	}
	var trace, row, col starlark.Value = nil, starlark.None, starlark.None
	secondaryY := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "trace", &trace, "row?", &row, "col?", &col, "secondary_y?", &secondaryY); err != nil {
		return nil, err
	}
	tr, err := traceOf(trace)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if secondaryY {
		tr["yaxis"] = "y2"
		axis, _ := f.layout["yaxis2"].(map[string]any)
		if axis == nil {
			axis = map[string]any{}
			f.layout["yaxis2"] = axis
		}
		axis["overlaying"] = "y"
		axis["side"] = "right"
	}
	f.data = append(f.data, tr)
	return f, nil
}

func figAddTraces(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	f, err := receiver(b)
	if err != nil {
		return nil, err
	}
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
		return nil, err
	}
	traces, err := tracesOf(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	f.data = append(f.data, traces...)
	return f, nil
}

// figAppendLayout appends a keyword-built object to a layout list.
func figAppendLayout(key string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		f, err := receiver(b)
		if err != nil {
			return nil, err
		}
		obj := map[string]any{}
		if err := mergeArgs(b.Name(), obj, args, kwargs); err != nil {
			return nil, err
		}
		list, _ := f.layout[key].([]any)
		f.layout[key] = append(list, obj)
		return f, nil
	}
}

// figAddLine draws a full-width horizontal or full-height vertical line.
// annotation_text adds a label at the line's end.
func figAddLine(dir string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		f, err := receiver(b)
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: expected one positional position argument", b.Name())
		}
		pos, err := toGo(args[0])
		if err != nil {
			return nil, err
		}

		var label any
		rest := make([]starlark.Tuple, 0, len(kwargs))
		for _, kv := range kwargs {
			if string(kv[0].(starlark.String)) == "annotation_text" {
				label, _ = toGo(kv[1])
				continue
			}
			rest = append(rest, kv)
		}
		style, err := kwargsTree(rest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		shape := map[string]any{"type": "line"}
		ann := map[string]any{"showarrow": false, "text": label}
		if dir == "h" {
			shape["xref"], shape["x0"], shape["x1"] = "paper", int64(0), int64(1)
			shape["yref"], shape["y0"], shape["y1"] = "y", pos, pos
			ann["xref"], ann["x"], ann["xanchor"] = "paper", int64(1), "right"
			ann["yref"], ann["y"], ann["yanchor"] = "y", pos, "bottom"
		} else {
			shape["yref"], shape["y0"], shape["y1"] = "paper", int64(0), int64(1)
			shape["xref"], shape["x0"], shape["x1"] = "x", pos, pos
			ann["yref"], ann["y"], ann["yanchor"] = "paper", int64(1), "top"
			ann["xref"], ann["x"], ann["xanchor"] = "x", pos, "left"
		}
		mergeInto(shape, style)

		shapes, _ := f.layout["shapes"].([]any)
		f.layout["shapes"] = append(shapes, shape)
		if label != nil {
			anns, _ := f.layout["annotations"].([]any)
			f.layout["annotations"] = append(anns, ann)
		}
		return f, nil
	}
}

func figUpdateLayout(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	f, err := receiver(b)
	if err != nil {
		return nil, err
	}
	if err := mergeArgs(b.Name(), f.layout, args, kwargs); err != nil {
		return nil, err
	}
	return f, nil
}

// figUpdateAxes applies the update to every x or y axis in the layout.
func figUpdateAxes(prefix string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		f, err := receiver(b)
		if err != nil {
			return nil, err
		}
		update := map[string]any{}
		if err := mergeArgs(b.Name(), update, args, kwargs); err != nil {
			return nil, err
		}
		primary := prefix + "axis"
		if _, ok := f.layout[primary].(map[string]any); !ok {
			f.layout[primary] = map[string]any{}
		}
		for key, v := range f.layout {
			axis, ok := v.(map[string]any)
			if !ok || !numberedAxis.MatchString(key) && key != primary {
				continue
			}
			if key[0] != prefix[0] {
				continue
			}
			mergeInto(axis, copyTree(update).(map[string]any))
		}
		return f, nil
	}
}

func figUpdateTraces(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	f, err := receiver(b)
	if err != nil {
		return nil, err
	}
	var selector map[string]any
	rest := make([]starlark.Tuple, 0, len(kwargs))
	for _, kv := range kwargs {
		if string(kv[0].(starlark.String)) == "selector" {
			s, err := toGo(kv[1])
			if err != nil {
				return nil, err
			}
			selector, _ = s.(map[string]any)
			continue
		}
		rest = append(rest, kv)
	}
	update := map[string]any{}
	if err := mergeArgs(b.Name(), update, args, rest); err != nil {
		return nil, err
	}
	for _, t := range f.data {
		tr, ok := t.(map[string]any)
		if !ok || !matchesSelector(tr, selector) {
			continue
		}
		mergeInto(tr, copyTree(update).(map[string]any))
	}
	return f, nil
}

func matchesSelector(trace, selector map[string]any) bool {
	for k, want := range selector {
		if fmt.Sprint(trace[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func figToDict(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return toStarlark(b.Receiver().(*Figure).toMap()), nil
}

func figToJSON(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	data, err := json.Marshal(b.Receiver().(*Figure).toMap())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(data), nil
}

// mergeArgs merges an optional positional dict and keyword arguments into dst.
func mergeArgs(name string, dst map[string]any, args starlark.Tuple, kwargs []starlark.Tuple) error {
	if len(args) > 1 {
		return fmt.Errorf("%s: accepts at most one positional dict", name)
	}
	if len(args) == 1 {
		g, err := toGo(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		m, ok := g.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: positional argument must be a dict, got %s", name, args[0].Type())
		}
		for k, v := range m {
			setPath(dst, splitMagic(k), v)
		}
	}
	kw, err := kwargsTree(kwargs)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	mergeInto(dst, kw)
	return nil
}

// figureValue unwraps a script value into a figure tree. Dicts with a data
// list are accepted since plotly's to_dict output is a valid figure.
func figureValue(v starlark.Value) (map[string]any, bool) {
	switch t := v.(type) {
	case *Figure:
		return t.toMap(), true
	case *starlark.Dict:
		g, err := toGo(t)
		if err != nil {
			return nil, false
		}
		m, ok := g.(map[string]any)
		if !ok {
			return nil, false
		}
		if _, ok := m["data"].([]any); !ok {
			return nil, false
		}
		return m, true
	}
	return nil, false
}

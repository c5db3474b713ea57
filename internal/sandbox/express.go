package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// express builds the px module: one-call figures from series.
func express() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "px",
		Members: starlark.StringDict{
			"line":    expressChart("line", map[string]any{"type": "scatter", "mode": "lines"}),
			"scatter": expressChart("scatter", map[string]any{"type": "scatter", "mode": "markers"}),
			"bar":     expressChart("bar", map[string]any{"type": "bar"}),
			"area":    expressChart("area", map[string]any{"type": "scatter", "mode": "lines", "stackgroup": "one"}),
		},
	}
}

// expressChart accepts a series, a list of series, or a dict of name to
// series, and plots one trace per series against its date index.
func expressChart(name string, base map[string]any) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var data starlark.Value
		var title string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data", &data, "title?", &title); err != nil {
			return nil, err
		}

		named, err := namedSeries(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		fig := &Figure{data: make([]any, 0, len(named)), layout: map[string]any{}}
		for _, ns := range named {
			trace := copyTree(base).(map[string]any)
			trace["name"] = ns.label
			trace["x"] = toAnySlice(ns.series.index())
			trace["y"] = ns.series.valuesAny()
			fig.data = append(fig.data, trace)
		}
		if title != "" {
			fig.layout["title"] = map[string]any{"text": title}
		}
		fig.layout["showlegend"] = len(named) > 1
		return fig, nil
	})
}

type labelledSeries struct {
	label  string
	series *Series
}

func namedSeries(v starlark.Value) ([]labelledSeries, error) {
	switch t := v.(type) {
	case *Series:
		return []labelledSeries{{label: t.name, series: t}}, nil
	case *starlark.Dict:
		out := make([]labelledSeries, 0, t.Len())
		for _, item := range t.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			s, ok := item[1].(*Series)
			if !ok {
				return nil, fmt.Errorf("%q: expected a Series, got %s", key, item[1].Type())
			}
			out = append(out, labelledSeries{label: key, series: s})
		}
		return out, nil
	case starlark.Iterable:
		var out []labelledSeries
		iter := t.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			s, ok := elem.(*Series)
			if !ok {
				return nil, fmt.Errorf("expected a list of Series, found %s", elem.Type())
			}
			out = append(out, labelledSeries{label: s.name, series: s})
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a Series, list or dict of Series, got %s", v.Type())
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

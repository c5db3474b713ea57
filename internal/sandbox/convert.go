package sandbox

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// maxNesting bounds container depth in converted values. Scripts can build
// self-referential lists and dicts, which would otherwise recurse forever.
const maxNesting = 64

var errTooDeep = fmt.Errorf("value is cyclic or nested deeper than %d levels", maxNesting)

// toGo converts a script value into a plain Go tree (map[string]any, []any,
// string, bool, int64, float64, nil). Figures, traces and series flatten to
// their plotly representation.
func toGo(v starlark.Value) (any, error) {
	return toGoDepth(v, 0)
}

func toGoDepth(v starlark.Value, depth int) (any, error) {
	if depth > maxNesting {
		return nil, errTooDeep
	}
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i, nil
		}
		f, _ := starlark.AsFloat(t)
		return f, nil
	case starlark.Float:
		return float64(t), nil
	case starlark.String:
		return string(t), nil
	case *Figure:
		return boundedCopy(map[string]any{"data": t.data, "layout": t.layout}, depth)
	case *Trace:
		return boundedCopy(t.props, depth)
	case *Series:
		return t.valuesAny(), nil
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, item := range t.Items() {
			key, err := dictKey(item[0])
			if err != nil {
				return nil, err
			}
			val, err := toGoDepth(item[1], depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	case starlark.Iterable:
		var out []any
		iter := t.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			val, err := toGoDepth(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	}
	return v.String(), nil
}

func dictKey(k starlark.Value) (string, error) {
	switch t := k.(type) {
	case starlark.String:
		return string(t), nil
	case starlark.Int, starlark.Float, starlark.Bool:
		return t.String(), nil
	}
	return "", fmt.Errorf("figure keys must be strings, got %s", k.Type())
}

// toStarlark converts a plain Go tree into script values. Map keys are
// inserted in sorted order so dict iteration is deterministic.
func toStarlark(v any) starlark.Value {
	switch t := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(t)
	case int:
		return starlark.MakeInt(t)
	case int64:
		return starlark.MakeInt64(t)
	case float64:
		return starlark.Float(t)
	case string:
		return starlark.String(t)
	case []any:
		elems := make([]starlark.Value, len(t))
		for i, e := range t {
			elems[i] = toStarlark(e)
		}
		return starlark.NewList(elems)
	case []float64:
		elems := make([]starlark.Value, len(t))
		for i, f := range t {
			elems[i] = starlark.Float(f)
		}
		return starlark.NewList(elems)
	case []string:
		elems := make([]starlark.Value, len(t))
		for i, s := range t {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(t))
		for _, k := range keys {
			_ = d.SetKey(starlark.String(k), toStarlark(t[k]))
		}
		return d
	}
	return starlark.String(fmt.Sprint(v))
}

// compound properties whose names may prefix a magic-underscore path,
// e.g. marker_color -> marker.color, xaxis2_title_text -> xaxis2.title.text.
var compoundProps = map[string]bool{
	"title": true, "font": true, "legend": true, "marker": true, "line": true,
	"margin": true, "hoverlabel": true, "textfont": true, "tickfont": true,
	"colorbar": true, "grid": true, "modebar": true, "domain": true,
	"rangeslider": true, "rangeselector": true, "xaxis": true, "yaxis": true,
	"header": true, "cells": true, "gauge": true, "number": true,
	"delta": true, "increasing": true, "decreasing": true, "bar": true,
	"pad": true,
}

var numberedAxis = regexp.MustCompile(`^[xy]axis\d+$`)

// splitMagic expands a keyword like "title_font_size" into its property path.
// Keys whose first segment is not a compound property are kept whole.
func splitMagic(key string) []string {
	var path []string
	rest := key
	for {
		idx := strings.IndexByte(rest, '_')
		if idx <= 0 || idx == len(rest)-1 {
			return append(path, rest)
		}
		head := rest[:idx]
		if !compoundProps[head] && !numberedAxis.MatchString(head) {
			return append(path, rest)
		}
		path = append(path, head)
		rest = rest[idx+1:]
	}
}

// setPath assigns val at path inside m, creating intermediate maps. A nested
// map value is merged into an existing map rather than replacing it.
func setPath(m map[string]any, path []string, val any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			if s, isString := m[p].(string); isString && (p == "title") {
				next = map[string]any{"text": s}
			} else {
				next = map[string]any{}
			}
			m[p] = next
		}
		m = next
	}
	last := path[len(path)-1]
	if src, ok := val.(map[string]any); ok {
		if dst, ok := m[last].(map[string]any); ok {
			mergeInto(dst, src)
			return
		}
	}
	m[last] = val
}

// mergeInto deep-merges src into dst.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeInto(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// kwargsTree converts keyword arguments into a property tree, expanding
// magic underscores.
func kwargsTree(kwargs []starlark.Tuple) (map[string]any, error) {
	out := make(map[string]any, len(kwargs))
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		val, err := toGo(kv[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		setPath(out, splitMagic(name), val)
	}
	return out, nil
}

func copyTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyTree(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyTree(e)
		}
		return out
	}
	return v
}

// boundedCopy is copyTree for trees embedded into other values, so
// figures nested inside figures stay within maxNesting.
func boundedCopy(v any, depth int) (any, error) {
	if depth > maxNesting {
		return nil, errTooDeep
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			c, err := boundedCopy(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			c, err := boundedCopy(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}
	return v, nil
}

// floatsOf accepts a series, a list or tuple of numbers, or a single number.
// None becomes NaN.
func floatsOf(v starlark.Value) ([]float64, error) {
	switch t := v.(type) {
	case *Series:
		return append([]float64(nil), t.values...), nil
	case starlark.NoneType:
		return []float64{math.NaN()}, nil
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(t)
		return []float64{f}, nil
	case starlark.Iterable:
		var out []float64
		iter := t.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			if elem == starlark.None {
				out = append(out, math.NaN())
				continue
			}
			f, ok := starlark.AsFloat(elem)
			if !ok {
				return nil, fmt.Errorf("expected numbers, got %s", elem.Type())
			}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a series or list of numbers, got %s", v.Type())
}

func floatList(values []float64) *starlark.List {
	elems := make([]starlark.Value, len(values))
	for i, f := range values {
		elems[i] = starlark.Float(f)
	}
	return starlark.NewList(elems)
}

func floatOrNone(f float64) starlark.Value {
	if math.IsNaN(f) {
		return starlark.None
	}
	return starlark.Float(f)
}

package sandbox

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"gonum.org/v1/gonum/stat"

	"github.com/HTF1125/investment-x-sub000/internal/models"
)

const dateLayout = "2006-01-02"

// Series is a date-indexed float sequence. NaN marks a missing observation.
type Series struct {
	name   string
	dates  []time.Time
	values []float64
}

var (
	_ starlark.Indexable = (*Series)(nil)
	_ starlark.Sequence  = (*Series)(nil)
	_ starlark.HasBinary = (*Series)(nil)
	_ starlark.HasUnary  = (*Series)(nil)
	_ starlark.HasAttrs  = (*Series)(nil)
)

func seriesFromModel(s *models.Series) *Series {
	out := &Series{
		name:   s.Name,
		dates:  make([]time.Time, len(s.Points)),
		values: make([]float64, len(s.Points)),
	}
	if out.name == "" {
		out.name = s.Code
	}
	for i, p := range s.Points {
		out.dates[i] = p.Date
		out.values[i] = p.Value
	}
	return out
}

func (s *Series) derive(values []float64) *Series {
	return &Series{name: s.name, dates: s.dates, values: values}
}

func (s *Series) String() string {
	return fmt.Sprintf("Series(name=%q, len=%d)", s.name, len(s.values))
}
func (s *Series) Type() string         { return "Series" }
func (s *Series) Freeze()              {}
func (s *Series) Truth() starlark.Bool { return len(s.values) > 0 }
func (s *Series) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: Series")
}
func (s *Series) Len() int { return len(s.values) }

func (s *Series) Index(i int) starlark.Value { return floatOrNone(s.values[i]) }

func (s *Series) Iterate() starlark.Iterator { return &seriesIterator{s: s} }

type seriesIterator struct {
	s *Series
	i int
}

func (it *seriesIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.s.values) {
		return false
	}
	*p = floatOrNone(it.s.values[it.i])
	it.i++
	return true
}

func (it *seriesIterator) Done() {}

func (s *Series) index() []string {
	out := make([]string, len(s.dates))
	for i, d := range s.dates {
		out[i] = d.Format(dateLayout)
	}
	return out
}

// valuesAny is the plotly representation: NaN becomes null.
func (s *Series) valuesAny() []any {
	out := make([]any, len(s.values))
	for i, v := range s.values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = nil
			continue
		}
		out[i] = v
	}
	return out
}

func (s *Series) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.MINUS:
		return s.mapValues(func(v float64) float64 { return -v }), nil
	case syntax.PLUS:
		return s, nil
	}
	return nil, nil
}

func (s *Series) mapValues(fn func(float64) float64) *Series {
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		out[i] = fn(v)
	}
	return s.derive(out)
}

// Binary supports + - * / against numbers and date-aligned series.
func (s *Series) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	apply, ok := arith[op]
	if !ok {
		return nil, nil
	}
	if other, ok := y.(*Series); ok {
		left, right := s, other
		if side == starlark.Right {
			left, right = other, s
		}
		return alignedBinary(left, right, apply), nil
	}
	f, ok := starlark.AsFloat(y)
	if !ok {
		return nil, nil
	}
	return s.mapValues(func(v float64) float64 {
		if side == starlark.Right {
			return apply(f, v)
		}
		return apply(v, f)
	}), nil
}

var arith = map[syntax.Token]func(a, b float64) float64{
	syntax.PLUS:  func(a, b float64) float64 { return a + b },
	syntax.MINUS: func(a, b float64) float64 { return a - b },
	syntax.STAR:  func(a, b float64) float64 { return a * b },
	syntax.SLASH: func(a, b float64) float64 {
		if b == 0 {
			return math.NaN()
		}
		return a / b
	},
}

// alignedBinary combines two series on the intersection of their dates.
func alignedBinary(a, b *Series, apply func(x, y float64) float64) *Series {
	lookup := make(map[time.Time]float64, len(b.dates))
	for i, d := range b.dates {
		lookup[d] = b.values[i]
	}
	out := &Series{name: a.name}
	for i, d := range a.dates {
		bv, ok := lookup[d]
		if !ok {
			continue
		}
		out.dates = append(out.dates, d)
		out.values = append(out.values, apply(a.values[i], bv))
	}
	return out
}

func (s *Series) Attr(name string) (starlark.Value, error) {
	switch name {
	case "index":
		return toStarlark(s.index()), nil
	case "values":
		return floatList(s.values), nil
	case "name":
		return starlark.String(s.name), nil
	}
	if m, ok := seriesMethods[name]; ok {
		return m.BindReceiver(s), nil
	}
	return nil, nil
}

func (s *Series) AttrNames() []string {
	names := []string{"index", "name", "values"}
	for k := range seriesMethods {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type seriesFunc func(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func seriesMethod(name string, fn seriesFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return fn(b.Receiver().(*Series), b, args, kwargs)
	})
}

var seriesMethods map[string]*starlark.Builtin

func init() {
	seriesMethods = map[string]*starlark.Builtin{
		"pct_change":   seriesMethod("pct_change", seriesPctChange),
		"diff":         seriesMethod("diff", seriesDiff),
		"shift":        seriesMethod("shift", seriesShift),
		"rolling_mean": seriesMethod("rolling_mean", seriesRolling(stat.Mean)),
		"rolling_std":  seriesMethod("rolling_std", seriesRolling(sampleStd)),
		"head":         seriesMethod("head", seriesHead),
		"tail":         seriesMethod("tail", seriesTail),
		"dropna":       seriesMethod("dropna", seriesDropNA),
		"first":        seriesMethod("first", seriesFirst),
		"last":         seriesMethod("last", seriesLast),
		"mean":         seriesMethod("mean", seriesReduce(stat.Mean)),
		"std":          seriesMethod("std", seriesReduce(sampleStd)),
		"min":          seriesMethod("min", seriesReduce(minOf)),
		"max":          seriesMethod("max", seriesReduce(maxOf)),
		"rebase":       seriesMethod("rebase", seriesRebase),
		"rename":       seriesMethod("rename", seriesRename),
		"slice":        seriesMethod("slice", seriesSlice),
		"to_dict":      seriesMethod("to_dict", seriesToDict),
	}
}

func unpackPeriods(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (int, error) {
	periods := 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "periods?", &periods); err != nil {
		return 0, err
	}
	return periods, nil
}

// lagged returns v[i-periods] for every i, NaN where out of range.
func lagged(values []float64, periods int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		j := i - periods
		if j < 0 || j >= len(values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[j]
	}
	return out
}

func seriesPctChange(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	periods, err := unpackPeriods(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	prev := lagged(s.values, periods)
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		if prev[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = v/prev[i] - 1
	}
	return s.derive(out), nil
}

func seriesDiff(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	periods, err := unpackPeriods(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	prev := lagged(s.values, periods)
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		out[i] = v - prev[i]
	}
	return s.derive(out), nil
}

func seriesShift(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	periods, err := unpackPeriods(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return s.derive(lagged(s.values, periods)), nil
}

// seriesRolling applies fn over a trailing window. Windows holding fewer than
// window finite values produce NaN.
func seriesRolling(fn func([]float64, []float64) float64) seriesFunc {
	return func(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var window int
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "window", &window); err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, fmt.Errorf("%s: window must be positive", b.Name())
		}
		out := make([]float64, len(s.values))
		for i := range s.values {
			if i+1 < window {
				out[i] = math.NaN()
				continue
			}
			win := finite(s.values[i+1-window : i+1])
			if len(win) < window {
				out[i] = math.NaN()
				continue
			}
			out[i] = fn(win, nil)
		}
		return s.derive(out), nil
	}
}

func seriesHead(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	n = clamp(n, len(s.values))
	return &Series{name: s.name, dates: s.dates[:n], values: s.values[:n]}, nil
}

func seriesTail(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	n = clamp(n, len(s.values))
	from := len(s.values) - n
	return &Series{name: s.name, dates: s.dates[from:], values: s.values[from:]}, nil
}

func clamp(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func seriesDropNA(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	out := &Series{name: s.name}
	for i, v := range s.values {
		if math.IsNaN(v) {
			continue
		}
		out.dates = append(out.dates, s.dates[i])
		out.values = append(out.values, v)
	}
	return out, nil
}

func seriesFirst(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	for _, v := range s.values {
		if !math.IsNaN(v) {
			return starlark.Float(v), nil
		}
	}
	return starlark.None, nil
}

func seriesLast(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	for i := len(s.values) - 1; i >= 0; i-- {
		if !math.IsNaN(s.values[i]) {
			return starlark.Float(s.values[i]), nil
		}
	}
	return starlark.None, nil
}

// seriesReduce applies fn over the finite values; an empty series gives None.
func seriesReduce(fn func([]float64, []float64) float64) seriesFunc {
	return func(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		vals := finite(s.values)
		if len(vals) == 0 {
			return starlark.None, nil
		}
		return floatOrNone(fn(vals, nil)), nil
	}
}

func seriesRebase(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	base := 100.0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "base?", &base); err != nil {
		return nil, err
	}
	var first float64
	found := false
	for _, v := range s.values {
		if !math.IsNaN(v) {
			first, found = v, true
			break
		}
	}
	if !found || first == 0 {
		return nil, fmt.Errorf("%s: series has no non-zero starting value", b.Name())
	}
	return s.mapValues(func(v float64) float64 { return v / first * base }), nil
}

func seriesRename(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return &Series{name: name, dates: s.dates, values: s.values}, nil
}

func seriesSlice(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, end string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start?", &start, "end?", &end); err != nil {
		return nil, err
	}
	from, err := parseDate(start)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	to, err := parseDate(end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	out := &Series{name: s.name}
	for i, d := range s.dates {
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		out.dates = append(out.dates, d)
		out.values = append(out.values, s.values[i])
	}
	return out, nil
}

func seriesToDict(s *Series, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	d := starlark.NewDict(len(s.values))
	for i, v := range s.values {
		if err := d.SetKey(starlark.String(s.dates[i].Format(dateLayout)), floatOrNone(v)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// sampleStd is the ddof=1 standard deviation; fewer than two values give NaN.
func sampleStd(x, weights []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.StdDev(x, weights)
}

func minOf(x, _ []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(x, _ []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		m = math.Max(m, v)
	}
	return m
}

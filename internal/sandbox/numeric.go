package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// numeric builds the np module. Reductions skip NaN; std is the population
// deviation to match numpy's default.
func numeric() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "np",
		Members: starlark.StringDict{
			"mean":     reduction("mean", stat.Mean),
			"median":   reduction("median", median),
			"std":      reduction("std", populationStd),
			"min":      reduction("min", minOf),
			"max":      reduction("max", maxOf),
			"sum":      reduction("sum", func(x, _ []float64) float64 { return floats.Sum(x) }),
			"quantile": starlark.NewBuiltin("quantile", npQuantile),
			"corr":     starlark.NewBuiltin("corr", npCorr),
			"cumsum":   starlark.NewBuiltin("cumsum", npCumsum),
			"array":    starlark.NewBuiltin("array", npArray),
			"isnan":    starlark.NewBuiltin("isnan", npIsNaN),
			"log":      elementwise("log", math.Log),
			"exp":      elementwise("exp", math.Exp),
			"sqrt":     elementwise("sqrt", math.Sqrt),
			"abs":      elementwise("abs", math.Abs),
			"nan":      starlark.Float(math.NaN()),
			"pi":       starlark.Float(math.Pi),
		},
	}
}

func reduction(name string, fn func(x, weights []float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		x, err := floatsOf(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		x = finite(x)
		if len(x) == 0 {
			return starlark.None, nil
		}
		return floatOrNone(fn(x, nil)), nil
	})
}

// elementwise maps fn over a number, list or series. Series stay series.
func elementwise(name string, fn func(float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case *Series:
			return t.mapValues(fn), nil
		case starlark.Int, starlark.Float:
			f, _ := starlark.AsFloat(t)
			return starlark.Float(fn(f)), nil
		}
		x, err := floatsOf(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		for i := range x {
			x[i] = fn(x[i])
		}
		return floatList(x), nil
	})
}

func median(x, _ []float64) float64 {
	return quantile(x, 0.5)
}

// quantile interpolates linearly between closest ranks, as numpy does.
func quantile(x []float64, q float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func populationStd(x, weights []float64) float64 {
	_, v := stat.PopMeanVariance(x, weights)
	return math.Sqrt(v)
}

func npQuantile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	var q float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &v, "q", &q); err != nil {
		return nil, err
	}
	if q < 0 || q > 1 {
		return nil, fmt.Errorf("%s: q must be in [0, 1], got %g", b.Name(), q)
	}
	x, err := floatsOf(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	x = finite(x)
	if len(x) == 0 {
		return starlark.None, nil
	}
	return starlark.Float(quantile(x, q)), nil
}

// npCorr is the Pearson correlation. Two series are aligned by date first;
// plain lists must have equal length.
func npCorr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a, c starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &a, &c); err != nil {
		return nil, err
	}

	var x, y []float64
	sa, aok := a.(*Series)
	sc, cok := c.(*Series)
	if aok && cok {
		left := alignedBinary(sa, sc, func(v, _ float64) float64 { return v })
		right := alignedBinary(sc, sa, func(v, _ float64) float64 { return v })
		x, y = left.values, right.values
	} else {
		var err error
		if x, err = floatsOf(a); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		if y, err = floatsOf(c); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		if len(x) != len(y) {
			return nil, fmt.Errorf("%s: length mismatch %d != %d", b.Name(), len(x), len(y))
		}
	}

	px, py := make([]float64, 0, len(x)), make([]float64, 0, len(y))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		px = append(px, x[i])
		py = append(py, y[i])
	}
	if len(px) < 2 {
		return starlark.None, nil
	}
	return floatOrNone(stat.Correlation(px, py, nil)), nil
}

func npCumsum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	x, err := floatsOf(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	out := make([]float64, len(x))
	if len(x) > 0 {
		floats.CumSum(out, x)
	}
	if s, ok := v.(*Series); ok {
		return s.derive(out), nil
	}
	return floatList(out), nil
}

func npArray(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	x, err := floatsOf(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return floatList(x), nil
}

func npIsNaN(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case starlark.NoneType:
		return starlark.True, nil
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(t)
		return starlark.Bool(math.IsNaN(f)), nil
	}
	x, err := floatsOf(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	elems := make([]starlark.Value, len(x))
	for i, f := range x {
		elems[i] = starlark.Bool(math.IsNaN(f))
	}
	return starlark.NewList(elems), nil
}

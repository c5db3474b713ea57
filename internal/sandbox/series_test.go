package sandbox

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/HTF1125/investment-x-sub000/internal/models"
)

// eval runs a snippet against the pure modules plus a fixed series s.
func eval(t *testing.T, expr string) starlark.Value {
	t.Helper()
	day := func(n int) time.Time { return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC) }
	s := seriesFromModel(&models.Series{Code: "S", Points: []models.SeriesPoint{
		{Date: day(1), Value: 10}, {Date: day(2), Value: 12}, {Date: day(3), Value: math.NaN()}, {Date: day(4), Value: 15}, {Date: day(5), Value: 18},
	}})
	env := starlark.StringDict{"s": s, "np": numeric(), "go": graphObjects(), "px": express()}
	v, err := starlark.EvalOptions(fileOptions, &starlark.Thread{}, "test.star", expr, env)
	require.NoError(t, err, expr)
	return v
}

func floatsFrom(t *testing.T, v starlark.Value) []float64 {
	t.Helper()
	out, err := floatsOf(v)
	require.NoError(t, err)
	return out
}

func assertFloats(t *testing.T, want []float64, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "index %d: want NaN, got %v", i, got[i])
			continue
		}
		assert.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

func TestSeries_Attributes(t *testing.T) {
	assert.Equal(t, starlark.MakeInt(5), eval(t, "len(s)"))
	assert.Equal(t, starlark.String("S"), eval(t, "s.name"))
	assert.Equal(t, starlark.String("2024-03-01"), eval(t, "s.index[0]"))
	assert.Equal(t, starlark.None, eval(t, "s[2]"))
	assert.Equal(t, starlark.Float(18), eval(t, "s.last()"))
	assert.Equal(t, starlark.Float(10), eval(t, "s.first()"))
	assert.Equal(t, starlark.String("X"), eval(t, "s.rename('X').name"))
}

func TestSeries_Transforms(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		expr string
		want []float64
	}{
		{"s.diff()", []float64{nan, 2, nan, nan, 3}},
		{"s.shift(2)", []float64{nan, nan, 10, 12, nan}},
		{"s.pct_change()", []float64{nan, 0.2, nan, nan, 0.2}},
		{"s.rolling_mean(2)", []float64{nan, 11, nan, nan, 16.5}},
		{"s.dropna()", []float64{10, 12, 15, 18}},
		{"s.tail(2)", []float64{15, 18}},
		{"s.head(1)", []float64{10}},
		{"s.rebase()", []float64{100, 120, nan, 150, 180}},
		{"s * 2", []float64{20, 24, nan, 30, 36}},
		{"1 + s", []float64{11, 13, nan, 16, 19}},
		{"-s", []float64{-10, -12, nan, -15, -18}},
		{"s - s", []float64{0, 0, nan, 0, 0}},
		{"s.slice('2024-03-02', '2024-03-04')", []float64{12, nan, 15}},
		{"np.cumsum(s.dropna())", []float64{10, 22, 37, 55}},
		{"s / 0", []float64{nan, nan, nan, nan, nan}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assertFloats(t, tt.want, floatsFrom(t, eval(t, tt.expr)))
		})
	}
}

func TestSeries_AlignedArithmetic(t *testing.T) {
	v := eval(t, "s + s.tail(3)")
	out := v.(*Series)
	assert.Equal(t, []string{"2024-03-03", "2024-03-04", "2024-03-05"}, out.index())
	assertFloats(t, []float64{math.NaN(), 30, 36}, out.values)
}

func TestSeries_Reductions(t *testing.T) {
	assert.InDelta(t, 13.75, float64(eval(t, "s.mean()").(starlark.Float)), 1e-9)
	assert.InDelta(t, 10, float64(eval(t, "s.min()").(starlark.Float)), 1e-9)
	assert.InDelta(t, 18, float64(eval(t, "s.max()").(starlark.Float)), 1e-9)
	// sample deviation of 10, 12, 15, 18
	assert.InDelta(t, 3.5, float64(eval(t, "s.std()").(starlark.Float)), 1e-9)
	assert.Equal(t, starlark.None, eval(t, "s.head(0).mean()"))
}

func TestSeries_ToDict(t *testing.T) {
	d := eval(t, "s.to_dict()").(*starlark.Dict)
	v, found, err := d.Get(starlark.String("2024-03-03"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, starlark.None, v)
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"np.mean([1, 2, 3, 4])", 2.5},
		{"np.median([5, 1, 3])", 3},
		{"np.median([4, 1, 3, 2])", 2.5},
		{"np.std([2, 4, 4, 4, 5, 5, 7, 9])", 2},
		{"np.quantile([1, 2, 3, 4, 5], 0.25)", 2},
		{"np.sum([1, None, 2])", 3},
		{"np.corr([1, 2, 3], [2, 4, 6])", 1},
		{"np.corr([1, 2, 3], [3, 2, 1])", -1},
		{"np.sqrt(16)", 4},
		{"np.mean(s)", 13.75},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v := eval(t, tt.expr)
			f, ok := v.(starlark.Float)
			require.True(t, ok, "got %s", v.Type())
			assert.InDelta(t, tt.want, float64(f), 1e-9)
		})
	}

	assert.Equal(t, starlark.True, eval(t, "np.isnan(np.nan)"))
	assert.Equal(t, starlark.None, eval(t, "np.mean([])"))
	assertFloats(t, []float64{0, 0}, floatsFrom(t, eval(t, "np.log([1, 1])")))
}

func TestGraphObjects_TraceUpdate(t *testing.T) {
	v := eval(t, "go.Scatter(y=[1, 2], marker_size=4).update(marker_color='red', mode='lines')")
	tr := v.(*Trace)
	assert.Equal(t, "scatter", tr.props["type"])
	assert.Equal(t, "lines", tr.props["mode"])
	assert.Equal(t, map[string]any{"size": int64(4), "color": "red"}, tr.props["marker"])
}

func TestGraphObjects_UpdateTracesSelector(t *testing.T) {
	v := eval(t, `go.Figure(data=[go.Bar(y=[1]), go.Scatter(y=[2])]).update_traces(opacity=0.5, selector={"type": "bar"})`)
	tree := v.(*Figure).toMap()
	data := tree["data"].([]any)
	assert.Equal(t, 0.5, data[0].(map[string]any)["opacity"])
	assert.NotContains(t, data[1].(map[string]any), "opacity")
}

func TestGraphObjects_UpdateAxes(t *testing.T) {
	v := eval(t, `go.Figure(layout={"yaxis2": {"side": "right"}}).update_yaxes(showgrid=False)`)
	layout := v.(*Figure).toMap()["layout"].(map[string]any)
	assert.Equal(t, false, layout["yaxis"].(map[string]any)["showgrid"])
	assert.Equal(t, false, layout["yaxis2"].(map[string]any)["showgrid"])
	assert.NotContains(t, layout, "xaxis")
}

func TestGraphObjects_ToJSON(t *testing.T) {
	v := eval(t, `go.Figure(data=[go.Bar(y=[1])]).to_json()`)
	assert.JSONEq(t, `{"data":[{"type":"bar","y":[1]}],"layout":{}}`, string(v.(starlark.String)))
}

func TestExpress_Line(t *testing.T) {
	v := eval(t, `px.line({"a": s, "b": s * 2}, title="T")`)
	tree := v.(*Figure).toMap()
	data := tree["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "a", data[0].(map[string]any)["name"])
	assert.Equal(t, "lines", data[1].(map[string]any)["mode"])
	assert.Equal(t, map[string]any{"text": "T"}, tree["layout"].(map[string]any)["title"])
}

func TestBindingOrder(t *testing.T) {
	src := "a = 1\nif a:\n    b, (c, d) = 1, (2, 3)\nfor e in []:\n    f = e\na = 2\n"
	f, err := fileOptions.Parse("t.star", src, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, bindingOrder(f.Stmts))
}

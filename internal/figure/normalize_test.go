package figure

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_PackedRoundTrip(t *testing.T) {
	values := []float64{1.5, -2.25, 3, 1e10, 0}

	packed, err := EncodePacked(values, "f8", nil)
	require.NoError(t, err)

	fig := map[string]any{
		"data": []any{
			map[string]any{"type": "scatter", "y": packed},
		},
	}

	out := Normalize(fig).(map[string]any)
	trace := out["data"].([]any)[0].(map[string]any)

	assert.Equal(t, []any{1.5, -2.25, 3.0, 1e10, 0.0}, trace["y"])
	assert.Equal(t, "scatter", trace["type"])
}

func TestNormalize_PackedDTypes(t *testing.T) {
	tests := []struct {
		name   string
		dtype  string
		values []float64
		want   []any
	}{
		{name: "int8", dtype: "i1", values: []float64{-128, 0, 127}, want: []any{int64(-128), int64(0), int64(127)}},
		{name: "uint8", dtype: "u1", values: []float64{0, 255}, want: []any{int64(0), int64(255)}},
		{name: "int16", dtype: "i2", values: []float64{-300, 300}, want: []any{int64(-300), int64(300)}},
		{name: "uint16", dtype: "u2", values: []float64{65535}, want: []any{int64(65535)}},
		{name: "int32", dtype: "i4", values: []float64{-70000, 70000}, want: []any{int64(-70000), int64(70000)}},
		{name: "uint32", dtype: "u4", values: []float64{4294967295}, want: []any{int64(4294967295)}},
		{name: "float64", dtype: "f8", values: []float64{0.1, 0.2}, want: []any{0.1, 0.2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := EncodePacked(tt.values, tt.dtype, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Normalize(packed))
		})
	}
}

func TestNormalize_Float32PrecisionPreserved(t *testing.T) {
	values := []float64{0.1, 2.5, -7.75}
	packed, err := EncodePacked(values, "f4", nil)
	require.NoError(t, err)

	out := Normalize(packed).([]any)
	require.Len(t, out, len(values))
	for i, v := range values {
		assert.InDelta(t, v, out[i].(float64), 1e-6)
	}
}

func TestNormalize_PackedReshape(t *testing.T) {
	packed, err := EncodePacked([]float64{1, 2, 3, 4, 5, 6}, "i4", []int{2, 3})
	require.NoError(t, err)

	// Shape strings may carry surrounding whitespace
	packed["shape"] = " 2 , 3 "

	out := Normalize(map[string]any{"z": packed}).(map[string]any)
	assert.Equal(t, []any{
		[]any{int64(1), int64(2), int64(3)},
		[]any{int64(4), int64(5), int64(6)},
	}, out["z"])
}

func TestNormalize_NonFiniteValuesBecomeNull(t *testing.T) {
	packed, err := EncodePacked([]float64{1, math.NaN(), math.Inf(1), math.Inf(-1)}, "f8", nil)
	require.NoError(t, err)

	in := map[string]any{
		"packed": packed,
		"plain":  []float64{math.NaN(), 2},
		"scalar": math.Inf(1),
		"list":   []any{float32(math.NaN()), 3.5},
	}

	out := Normalize(in).(map[string]any)
	assert.Equal(t, []any{1.0, nil, nil, nil}, out["packed"])
	assert.Equal(t, []any{nil, 2.0}, out["plain"])
	assert.Nil(t, out["scalar"])
	assert.Equal(t, []any{nil, 3.5}, out["list"])

	_, err = json.Marshal(out)
	require.NoError(t, err)
}

func TestNormalize_UndecodablePackedNodePreserved(t *testing.T) {
	tests := []struct {
		name string
		node map[string]any
	}{
		{name: "bad base64", node: map[string]any{"bdata": "!!!", "dtype": "f8", "shape": "1"}},
		{name: "unknown dtype", node: map[string]any{"bdata": "AAAAAAAA8D8=", "dtype": "c16", "shape": "1"}},
		{name: "shape mismatch", node: map[string]any{"bdata": "AAAAAAAA8D8=", "dtype": "f8", "shape": "3"}},
		{name: "bad shape", node: map[string]any{"bdata": "AAAAAAAA8D8=", "dtype": "f8", "shape": "x"}},
		{name: "huge dimension over empty buffer", node: map[string]any{"bdata": "", "dtype": "f8", "shape": "3000000000, 0"}},
		{name: "zero dimension over full buffer", node: map[string]any{"bdata": "AAAAAAAA8D8=", "dtype": "f8", "shape": "0, 1"}},
		{name: "dimension larger than buffer", node: map[string]any{"bdata": "AAAAAAAA8D8=", "dtype": "f8", "shape": "4294967296, 4294967296"}},
		{name: "too many dimensions", node: map[string]any{"bdata": "AAAAAAAA8D8=", "dtype": "f8", "shape": strings.Repeat("1, ", 40) + "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var warnings []Warning
			in := map[string]any{"data": []any{map[string]any{"y": tt.node, "name": "ok"}}}

			out := Normalize(in, WithWarningHook(func(w Warning) {
				warnings = append(warnings, w)
			})).(map[string]any)

			trace := out["data"].([]any)[0].(map[string]any)
			assert.Equal(t, tt.node, trace["y"])
			assert.Equal(t, "ok", trace["name"])
			require.Len(t, warnings, 1)
			assert.Equal(t, "$.data[0].y", warnings[0].Path)
		})
	}
}

func TestNormalize_OnlyExactThreeKeyNodesDecoded(t *testing.T) {
	node := map[string]any{"bdata": "AAAAAAAA8D8=", "dtype": "f8", "shape": "1", "extra": true}
	out := Normalize(node)
	assert.Equal(t, node, out)
}

func TestNormalize_Times(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	stamp := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	out := Normalize(map[string]any{
		"day":   day,
		"stamp": stamp,
		"ptr":   &stamp,
		"list":  []time.Time{day},
	}).(map[string]any)

	assert.Equal(t, "2024-03-05", out["day"])
	assert.Equal(t, "2024-03-05T14:30:00Z", out["stamp"])
	assert.Equal(t, "2024-03-05T14:30:00Z", out["ptr"])
	assert.Equal(t, []any{"2024-03-05"}, out["list"])
}

type sampleTrace struct {
	Type   string    `json:"type"`
	X      []int     `json:"x"`
	Hidden string    `json:"-"`
	Name   string    `json:"name,omitempty"`
	At     time.Time `json:"at"`
}

func TestNormalize_StructsAndTypedMaps(t *testing.T) {
	at := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	in := map[string]any{
		"trace": sampleTrace{Type: "bar", X: []int{1, 2}, Hidden: "secret", At: at},
		"meta":  map[string]int{"a": 1},
		"keys":  map[int]string{7: "seven"},
		"raw":   json.RawMessage(`{"n": 1.5, "i": 2}`),
	}

	out := Normalize(in).(map[string]any)

	assert.Equal(t, map[string]any{
		"type": "bar",
		"x":    []any{int64(1), int64(2)},
		"at":   "2023-01-02",
	}, out["trace"])
	assert.Equal(t, map[string]any{"a": int64(1)}, out["meta"])
	assert.Equal(t, map[string]any{"7": "seven"}, out["keys"])
	assert.Equal(t, map[string]any{"n": 1.5, "i": int64(2)}, out["raw"])
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	packed, err := EncodePacked([]float64{1, 2}, "f8", nil)
	require.NoError(t, err)
	in := map[string]any{"y": packed}

	_ = Normalize(in)

	assert.Equal(t, packed, in["y"])
}

func TestDecodePacked_EmptyBuffer(t *testing.T) {
	out, err := DecodePacked("", "f8", "0")
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)

	out, err = DecodePacked("", "i4", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)
}

func TestEncodePacked_RejectsBadInput(t *testing.T) {
	_, err := EncodePacked([]float64{1.5}, "i4", nil)
	assert.Error(t, err)

	_, err = EncodePacked([]float64{1, 2, 3}, "f8", []int{2, 2})
	assert.Error(t, err)

	_, err = EncodePacked([]float64{1}, "q7", nil)
	assert.Error(t, err)

	_, err = EncodePacked([]float64{1, 2}, "f8", []int{math.MaxInt, 2})
	assert.Error(t, err)
}

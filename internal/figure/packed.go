package figure

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Keys of a packed binary array node.
const (
	keyBData = "bdata"
	keyDType = "dtype"
	keyShape = "shape"
)

// dtypeInfo describes one supported packed element type.
type dtypeInfo struct {
	size    int
	float   bool
	signed  bool
	canonic string
}

var dtypes = map[string]dtypeInfo{
	"i1":  {size: 1, signed: true, canonic: "i1"},
	"u1":  {size: 1, canonic: "u1"},
	"u1c": {size: 1, canonic: "u1"}, // uint8 clamped
	"i2":  {size: 2, signed: true, canonic: "i2"},
	"u2":  {size: 2, canonic: "u2"},
	"i4":  {size: 4, signed: true, canonic: "i4"},
	"u4":  {size: 4, canonic: "u4"},
	"i8":  {size: 8, signed: true, canonic: "i8"},
	"u8":  {size: 8, canonic: "u8"},
	"f4":  {size: 4, float: true, canonic: "f4"},
	"f8":  {size: 8, float: true, canonic: "f8"},
}

// isPacked reports whether m is exactly a packed array node.
func isPacked(m map[string]any) bool {
	if len(m) != 3 {
		return false
	}
	_, b := m[keyBData]
	_, d := m[keyDType]
	_, s := m[keyShape]
	return b && d && s
}

// isPackedFlat matches the two-key form (no shape) that plotly emits for 1-D arrays.
func isPackedFlat(m map[string]any) bool {
	if len(m) != 2 {
		return false
	}
	_, b := m[keyBData]
	_, d := m[keyDType]
	return b && d
}

// parseDType resolves a dtype code and its byte order. A leading '<', '|' or '='
// is little endian, '>' is big endian.
func parseDType(code string) (dtypeInfo, binary.ByteOrder, error) {
	code = strings.TrimSpace(code)
	var order binary.ByteOrder = binary.LittleEndian
	if code != "" {
		switch code[0] {
		case '<', '|', '=':
			code = code[1:]
		case '>':
			order = binary.BigEndian
			code = code[1:]
		}
	}
	info, ok := dtypes[code]
	if !ok {
		return dtypeInfo{}, nil, fmt.Errorf("unsupported dtype %q", code)
	}
	return info, order, nil
}

// parseShape accepts "3", "2, 3", a bare number, or a list of numbers.
func parseShape(v any) ([]int, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		parts := strings.Split(s, ",")
		dims := make([]int, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid shape dimension %q", p)
			}
			dims = append(dims, n)
		}
		return dims, nil
	case []any:
		dims := make([]int, 0, len(s))
		for _, d := range s {
			n, ok := toInt(d)
			if !ok || n < 0 {
				return nil, fmt.Errorf("invalid shape dimension %v", d)
			}
			dims = append(dims, n)
		}
		return dims, nil
	case []int:
		return append([]int(nil), s...), nil
	default:
		n, ok := toInt(v)
		if !ok || n < 0 {
			return nil, fmt.Errorf("invalid shape %v", v)
		}
		return []int{n}, nil
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// DecodePacked decodes a base64 buffer of dtype elements into nested []any
// following shape. Float NaN and Inf become nil. Integer types decode to int64.
func DecodePacked(bdata string, dtype string, shape any) (any, error) {
	info, order, err := parseDType(dtype)
	if err != nil {
		return nil, err
	}

	buf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(bdata))
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimSpace(bdata))
		if rawErr != nil {
			return nil, fmt.Errorf("failed to decode bdata: %w", err)
		}
		buf = raw
	}

	if len(buf)%info.size != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of %s item size %d", len(buf), info.canonic, info.size)
	}
	count := len(buf) / info.size

	dims, err := parseShape(shape)
	if err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		dims = []int{count}
	}
	if err := checkShape(dims, count); err != nil {
		return nil, err
	}

	values := make([]any, count)
	for i := 0; i < count; i++ {
		values[i] = readElement(buf[i*info.size:(i+1)*info.size], info, order)
	}

	return reshape(values, dims), nil
}

// maxDims matches numpy's array rank limit.
const maxDims = 32

// checkShape verifies dims describe exactly count items. Every dimension is
// bounded by count before multiplying, so the running product cannot overflow.
// An empty buffer only matches the one-dimensional shape (0).
func checkShape(dims []int, count int) error {
	if len(dims) > maxDims {
		return fmt.Errorf("shape has %d dimensions, at most %d are supported", len(dims), maxDims)
	}
	if count == 0 {
		if len(dims) != 1 || dims[0] != 0 {
			return fmt.Errorf("shape %v does not describe an empty buffer", dims)
		}
		return nil
	}
	product := 1
	for _, d := range dims {
		if d < 1 || d > count {
			return fmt.Errorf("shape %v does not fit a buffer of %d items", dims, count)
		}
		product *= d
		if product > count {
			return fmt.Errorf("shape %v needs more than the %d items in the buffer", dims, count)
		}
	}
	if product != count {
		return fmt.Errorf("shape %v needs %d items, buffer holds %d", dims, product, count)
	}
	return nil
}

func readElement(b []byte, info dtypeInfo, order binary.ByteOrder) any {
	switch info.canonic {
	case "i1":
		return int64(int8(b[0]))
	case "u1":
		return int64(b[0])
	case "i2":
		return int64(int16(order.Uint16(b)))
	case "u2":
		return int64(order.Uint16(b))
	case "i4":
		return int64(int32(order.Uint32(b)))
	case "u4":
		return int64(order.Uint32(b))
	case "i8":
		return int64(order.Uint64(b))
	case "u8":
		u := order.Uint64(b)
		if u > math.MaxInt64 {
			return float64(u)
		}
		return int64(u)
	case "f4":
		return finite(float64(math.Float32frombits(order.Uint32(b))))
	default:
		return finite(math.Float64frombits(order.Uint64(b)))
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// reshape nests a flat slice according to dims (row-major).
func reshape(flat []any, dims []int) any {
	if len(dims) <= 1 {
		return flat
	}
	stride := len(flat) / dims[0]
	out := make([]any, dims[0])
	for i := 0; i < dims[0]; i++ {
		out[i] = reshape(flat[i*stride:(i+1)*stride], dims[1:])
	}
	return out
}

// EncodePacked builds a packed node from values. An empty shape means a flat
// array of len(values). Integer dtypes reject non-integral or non-finite values.
func EncodePacked(values []float64, dtype string, shape []int) (map[string]any, error) {
	info, order, err := parseDType(dtype)
	if err != nil {
		return nil, err
	}
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	if err := checkShape(shape, len(values)); err != nil {
		return nil, err
	}

	buf := make([]byte, len(values)*info.size)
	for i, v := range values {
		b := buf[i*info.size : (i+1)*info.size]
		if info.float {
			if info.size == 4 {
				order.PutUint32(b, math.Float32bits(float32(v)))
			} else {
				order.PutUint64(b, math.Float64bits(v))
			}
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, fmt.Errorf("value %v at index %d cannot be stored as %s", v, i, info.canonic)
		}
		switch info.size {
		case 1:
			b[0] = byte(int64(v))
		case 2:
			order.PutUint16(b, uint16(int64(v)))
		case 4:
			order.PutUint32(b, uint32(int64(v)))
		default:
			order.PutUint64(b, uint64(int64(v)))
		}
	}

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}

	return map[string]any{
		keyBData: base64.StdEncoding.EncodeToString(buf),
		keyDType: info.canonic,
		keyShape: strings.Join(dims, ", "),
	}, nil
}

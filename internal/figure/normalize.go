// Package figure converts chart figures into plain JSON-safe trees and back.
//
// A normalized tree contains only map[string]any, []any, string, bool, nil,
// int64 and finite float64 values, so it always survives a JSON round trip.
package figure

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Warning reports a packed array node that could not be decoded.
// The node is left in the tree unchanged.
type Warning struct {
	Path   string
	Reason string
}

func (w Warning) Error() string {
	return fmt.Sprintf("packed array at %s left undecoded: %s", w.Path, w.Reason)
}

// WarningHook receives normalization warnings.
type WarningHook func(Warning)

// Option configures a normalization pass.
type Option func(*normalizer)

// WithWarningHook delivers decode warnings to fn.
func WithWarningHook(fn WarningHook) Option {
	return func(n *normalizer) {
		n.warn = fn
	}
}

// WithLogger logs decode warnings at warn level.
func WithLogger(logger arbor.ILogger) Option {
	return func(n *normalizer) {
		if logger == nil {
			return
		}
		n.warn = func(w Warning) {
			logger.Warn().Str("path", w.Path).Str("reason", w.Reason).Msg("Packed array left undecoded")
		}
	}
}

// acceptFlatPacked also decodes the two-key {bdata, dtype} form. Used on the
// load path where stored JSON may come from older plotly encoders.
func acceptFlatPacked() Option {
	return func(n *normalizer) {
		n.flat = true
	}
}

type normalizer struct {
	warn  WarningHook
	flat  bool
	depth int
}

const maxDepth = 512

var (
	timeType      = reflect.TypeOf(time.Time{})
	rawType       = reflect.TypeOf(json.RawMessage(nil))
	numberType    = reflect.TypeOf(json.Number(""))
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textType      = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Normalize returns a JSON-safe copy of v. It never fails: values that
// cannot be represented become their string form, undecodable packed nodes
// are preserved and reported through the warning hook.
func Normalize(v any, opts ...Option) any {
	n := &normalizer{}
	for _, opt := range opts {
		opt(n)
	}
	return n.value(v, "$")
}

// NormalizeMap is Normalize for a top-level mapping.
func NormalizeMap(m map[string]any, opts ...Option) map[string]any {
	out, _ := Normalize(m, opts...).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (n *normalizer) warnf(path, format string, args ...any) {
	if n.warn != nil {
		n.warn(Warning{Path: path, Reason: fmt.Sprintf(format, args...)})
	}
}

func (n *normalizer) value(v any, path string) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case bool:
		return t
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return int64(t)
	case int64:
		return t
	case int32:
		return int64(t)
	case json.Number:
		return number(t)
	case json.RawMessage:
		return n.raw(t, path)
	case time.Time:
		return isoTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return isoTime(*t)
	case map[string]any:
		return n.mapping(t, path)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = n.child(e, path+"["+strconv.Itoa(i)+"]")
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = finite(f)
		}
		return out
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	}
	return n.reflectValue(reflect.ValueOf(v), path)
}

func (n *normalizer) child(v any, path string) any {
	n.depth++
	defer func() { n.depth-- }()
	if n.depth > maxDepth {
		n.warnf(path, "nesting deeper than %d", maxDepth)
		return nil
	}
	return n.value(v, path)
}

func (n *normalizer) mapping(m map[string]any, path string) any {
	if isPacked(m) || (n.flat && isPackedFlat(m)) {
		if decoded, ok := n.packed(m, path); ok {
			return decoded
		}
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = n.child(e, path+"."+k)
	}
	return out
}

func (n *normalizer) packed(m map[string]any, path string) (any, bool) {
	bdata, ok := m[keyBData].(string)
	if !ok {
		n.warnf(path, "bdata is %T, not a string", m[keyBData])
		return nil, false
	}
	dtype, ok := m[keyDType].(string)
	if !ok {
		n.warnf(path, "dtype is %T, not a string", m[keyDType])
		return nil, false
	}
	decoded, err := DecodePacked(bdata, dtype, m[keyShape])
	if err != nil {
		n.warnf(path, "%v", err)
		return nil, false
	}
	return decoded, true
}

func (n *normalizer) raw(r json.RawMessage, path string) any {
	if len(r) == 0 {
		return nil
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(string(r)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(r)
	}
	return n.value(v, path)
}

func (n *normalizer) reflectValue(rv reflect.Value, path string) any {
	if !rv.IsValid() {
		return nil
	}

	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	t := rv.Type()
	switch {
	case t == timeType:
		return isoTime(rv.Interface().(time.Time))
	case t == rawType:
		return n.raw(rv.Interface().(json.RawMessage), path)
	case t == numberType:
		return number(rv.Interface().(json.Number))
	case t.Implements(marshalerType):
		data, err := rv.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return fmt.Sprint(rv.Interface())
		}
		return n.raw(data, path)
	case t.Implements(textType) && t.Kind() != reflect.Struct:
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return fmt.Sprint(rv.Interface())
		}
		return string(text)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u)
		}
		return int64(u)
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes())
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = n.child(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[mapKey(iter.Key())] = iter.Value().Interface()
		}
		return n.mapping(m, path)
	case reflect.Struct:
		return n.structValue(rv, path)
	}

	return fmt.Sprint(rv.Interface())
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if b, err := tm.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(k.Interface())
}

// structValue follows encoding/json field naming: json tags, "-" and omitempty.
func (n *normalizer) structValue(rv reflect.Value, path string) any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		omitEmpty := false
		if tag, ok := f.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitEmpty = true
				}
			}
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = n.child(fv.Interface(), path+"."+name)
	}
	return out
}

func number(num json.Number) any {
	if i, err := num.Int64(); err == nil {
		return i
	}
	f, err := num.Float64()
	if err != nil {
		return num.String()
	}
	return finite(f)
}

// isoTime renders dates without a clock component as YYYY-MM-DD, which is
// what plotly emits for daily axes; everything else as RFC 3339.
func isoTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	if t.Nanosecond() != 0 {
		return t.Format(time.RFC3339Nano)
	}
	return t.Format(time.RFC3339)
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

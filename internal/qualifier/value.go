package qualifier

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
)

// Kind is the type of a Value.
type Kind int

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
	KindBool
	KindBytes
	KindGeoJSON
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindGeoJSON:
		return "geojson"
	default:
		return "invalid"
	}
}

// Value is a typed scalar carried by a Qualifier leaf.
// The zero Value is invalid.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Int(v int64) Value      { return Value{kind: KindInt, i: v} }
func Float(v float64) Value  { return Value{kind: KindFloat, f: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func GeoJSON(v string) Value { return Value{kind: KindGeoJSON, s: v} }
func Bytes(v []byte) Value   { return Value{kind: KindBytes, b: bytes.Clone(v)} }
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// ValueOf converts a Go value into a Value. Supported: all integer types,
// float32/64, string, bool and []byte.
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: uint64 %d overflows int64", ErrValueType, t)
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case []byte:
		return Bytes(t), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrValueType, v)
	}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) Valid() bool     { return v.kind != 0 }
func (v Value) IntValue() int64 { return v.i }
func (v Value) FloatValue() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) StringValue() string { return v.s }
func (v Value) BoolValue() bool     { return v.i != 0 }
func (v Value) BytesValue() []byte  { return bytes.Clone(v.b) }

// Any returns the Go representation: int64, float64, string, bool or []byte.
// GeoJSON values return their string form.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString, KindGeoJSON:
		return v.s
	case KindBool:
		return v.i != 0
	case KindBytes:
		return bytes.Clone(v.b)
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == o.f
	case KindString, KindGeoJSON:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	default:
		return v.i == o.i
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindGeoJSON:
		return "geo(" + v.s + ")"
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindBytes:
		return "b64(" + base64.StdEncoding.EncodeToString(v.b) + ")"
	default:
		return "<invalid>"
	}
}

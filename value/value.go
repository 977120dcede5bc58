package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindMap
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindMap:    "map",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return KindNull, false
}

// Value is an immutable property value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	m    *Map
}

// Null is the null value.
var Null = Value{}

func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func MapValue(m *Map) Value  { return Value{kind: KindMap, m: m} }
func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) AsBool() bool { return v.b }
func (v Value) AsInt() int64 { return v.i }
func (v Value) AsFloat() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// AsString returns the string payload, or "" for other kinds. Use String for
// a printable rendering of any kind.
func (v Value) AsString() string { return v.s }

// AsMap returns the nested map, or nil when v is not a map.
func (v Value) AsMap() *Map { return v.m }

// MapOf builds a map value from alternating key/value pairs.
func MapOf(kv ...any) Value {
	m := NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(fmt.Sprint(kv[i]), FromAny(kv[i+1]))
	}
	return MapValue(m)
}

// FromAny converts a Go value into a Value. Unsupported types are rendered
// with fmt and stored as strings.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return Float(float64(t))
		}
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case *Map:
		return MapValue(t)
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			m.Set(k, FromAny(t[k]))
		}
		return MapValue(m)
	default:
		return String(fmt.Sprint(x))
	}
}

// Any converts v back into a plain Go value.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Range(func(k string, e Value) bool {
			out[k] = e.Any()
			return true
		})
		return out
	default:
		return nil
	}
}

// String renders v for display and for textual comparisons.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindMap:
		var sb strings.Builder
		sb.WriteByte('{')
		first := true
		v.m.Range(func(k string, e Value) bool {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(e.String())
			return true
		})
		sb.WriteByte('}')
		return sb.String()
	default:
		return ""
	}
}

// Equal reports deep equality, kind included.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

// Coerce converts v to kind k. Conversions that lose the meaning of the
// value (a non-numeric string to int, a map to anything) fail.
func (v Value) Coerce(k Kind) (Value, bool) {
	if v.kind == k {
		return v, true
	}
	switch k {
	case KindString:
		if v.kind == KindMap || v.kind == KindNull {
			return Null, false
		}
		return String(v.String()), true
	case KindInt:
		switch v.kind {
		case KindFloat:
			if v.f != math.Trunc(v.f) {
				return Null, false
			}
			return Int(int64(v.f)), true
		case KindBool:
			if v.b {
				return Int(1), true
			}
			return Int(0), true
		case KindString:
			i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
			if err != nil {
				return Null, false
			}
			return Int(i), true
		}
	case KindFloat:
		switch v.kind {
		case KindInt:
			return Float(float64(v.i)), true
		case KindString:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
			if err != nil {
				return Null, false
			}
			return Float(f), true
		}
	case KindBool:
		switch v.kind {
		case KindInt:
			return Bool(v.i != 0), true
		case KindString:
			b, err := strconv.ParseBool(strings.TrimSpace(v.s))
			if err != nil {
				return Null, false
			}
			return Bool(b), true
		}
	}
	return Null, false
}

// Compare orders a against b. Numbers compare numerically across int and
// float, strings lexically and false sorts before true. When kinds differ,
// b is coerced to a's kind first. ok is false when the values cannot be
// ordered.
func Compare(a, b Value) (cmp int, ok bool) {
	if isNumber(a) && isNumber(b) {
		if a.kind == KindInt && b.kind == KindInt {
			return compareOrdered(a.i, b.i), true
		}
		return compareOrdered(a.AsFloat(), b.AsFloat()), true
	}
	if a.kind != b.kind {
		c, ok := b.Coerce(a.kind)
		if !ok {
			return 0, false
		}
		b = c
	}
	switch a.kind {
	case KindString:
		return strings.Compare(a.s, b.s), true
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		default:
			return 1, true
		}
	case KindNull:
		return 0, true
	case KindInt:
		return compareOrdered(a.i, b.i), true
	case KindFloat:
		return compareOrdered(a.f, b.f), true
	}
	return 0, false
}

func isNumber(v Value) bool { return v.kind == KindInt || v.kind == KindFloat }

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MarshalJSON writes v as a JSON literal. Floats always carry a fraction or
// exponent so that they decode back as floats.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("value: cannot marshal %v", v.f)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	case KindString:
		return json.Marshal(v.s)
	case KindMap:
		return v.m.MarshalJSON()
	}
	return nil, fmt.Errorf("value: cannot marshal kind %s", v.kind)
}

// UnmarshalJSON parses a JSON literal. Numbers without fraction or exponent
// become ints.
func (v *Value) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); bytes.HasPrefix(trimmed, []byte("{")) {
		m := NewMap()
		if err := m.UnmarshalJSON(trimmed); err != nil {
			return err
		}
		*v = MapValue(m)
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromJSON(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func fromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := t.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return Null, err
		}
		return Float(f), nil
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			e, err := fromJSON(t[k])
			if err != nil {
				return Null, err
			}
			m.Set(k, e)
		}
		return MapValue(m), nil
	}
	return Null, fmt.Errorf("value: unsupported JSON literal %T", raw)
}

// MarshalJSON writes the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := m.items[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the key order of the input.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("value: expected JSON object")
	}
	if m.items == nil {
		m.items = make(map[string]Value)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return err
		}
		m.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// Literal serializes v for storage. Parse reverses it.
func Literal(v Value) (string, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse reads a literal produced by Literal.
func Parse(s string) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON([]byte(s)); err != nil {
		return Null, err
	}
	return v, nil
}

package value

import "fmt"

// Transform converts a raw upstream value before it is stored.
type Transform func(Value) (Value, error)

// PropSpec describes one property of an object type.
type PropSpec struct {
	Kind      Kind
	Transform Transform
	// Nested describes the entries of a map property.
	Nested Schema
}

// Schema maps property names to their description.
type Schema map[string]PropSpec

// Apply converts raw into typed properties. Keys unknown to the schema are
// dropped; missing keys are left absent.
func (s Schema) Apply(raw map[string]any) (*Map, error) {
	out := NewMap()
	for _, k := range sortedKeys(raw) {
		spec, ok := s[k]
		if !ok {
			continue
		}
		v, err := spec.convert(FromAny(raw[k]))
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", k, err)
		}
		out.Set(k, v)
	}
	return out, nil
}

func (p PropSpec) convert(v Value) (Value, error) {
	var err error
	if p.Transform != nil {
		if v, err = p.Transform(v); err != nil {
			return Null, err
		}
	}
	if v.IsNull() {
		return v, nil
	}
	if p.Kind == KindMap {
		if v.kind != KindMap {
			return Null, fmt.Errorf("expected map, got %s", v.kind)
		}
		if p.Nested == nil {
			return v, nil
		}
		return p.Nested.applyMap(v.m)
	}
	c, ok := v.Coerce(p.Kind)
	if !ok {
		return Null, fmt.Errorf("cannot convert %s %q to %s", v.kind, v.String(), p.Kind)
	}
	return c, nil
}

func (s Schema) applyMap(m *Map) (Value, error) {
	out := NewMap()
	var err error
	m.Range(func(k string, v Value) bool {
		spec, ok := s[k]
		if !ok {
			return true
		}
		var c Value
		if c, err = spec.convert(v); err != nil {
			err = fmt.Errorf("property %s: %w", k, err)
			return false
		}
		out.Set(k, c)
		return true
	})
	if err != nil {
		return Null, err
	}
	return MapValue(out), nil
}

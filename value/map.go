package value

import "sort"

// Map is an insertion-ordered string keyed map of values.
type Map struct {
	keys  []string
	items map[string]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{items: make(map[string]Value)}
}

// Set stores v under key. Existing keys keep their position.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.items[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.items[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Null, false
	}
	v, ok := m.items[key]
	return v, ok
}

// Delete removes key.
func (m *Map) Delete(key string) {
	if _, ok := m.items[key]; !ok {
		return
	}
	delete(m.items, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.items[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := NewMap()
	m.Range(func(k string, v Value) bool {
		if v.kind == KindMap {
			v = MapValue(v.m.Clone())
		}
		out.Set(k, v)
		return true
	})
	return out
}

// Equal compares entries and their order.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.Keys() {
		if o.keys[i] != k || !m.items[k].Equal(o.items[k]) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

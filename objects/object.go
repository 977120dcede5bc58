package objects

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nestormc/nestor/value"
)

// Object is the cached representation of one provider object. Its type set
// is fixed once Describe returns. Properties are written by the wrapper:
// from Describe and Update, and from SetValue when it accepts a write.
type Object struct {
	owner   string
	oid     string
	wrapper Wrapper

	mu     sync.RWMutex
	types  []string
	props  *value.Map
	sealed bool

	lastAccess  atomic.Int64
	accessCount atomic.Int64
}

func newObject(owner, oid string, w Wrapper) *Object {
	return &Object{owner: owner, oid: oid, wrapper: w, props: value.NewMap()}
}

// NewDetached builds and describes an object outside of any cache. It is
// meant for tests of wrappers and for tools that render one-off objects.
func NewDetached(owner, oid string, w Wrapper) (*Object, error) {
	o := newObject(owner, oid, w)
	if err := o.describe(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Object) describe() error {
	err := o.wrapper.Describe(o)
	o.mu.Lock()
	o.sealed = true
	o.mu.Unlock()
	return err
}

func (o *Object) Owner() string { return o.owner }
func (o *Object) OID() string   { return o.oid }

// Ref returns "owner:oid".
func (o *Object) Ref() string { return Ref(o.owner, o.oid) }

// Wrapper returns the provider wrapper backing the object.
func (o *Object) Wrapper() Wrapper { return o.wrapper }

// AddTypes adds types while the object is being described. It reports false,
// leaving the type set alone, once the object is sealed.
func (o *Object) AddTypes(types ...string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sealed {
		return false
	}
	for _, t := range types {
		if !slices.Contains(o.types, t) {
			o.types = append(o.types, t)
		}
	}
	return true
}

// Types returns a copy of the type set.
func (o *Object) Types() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.types)
}

// HasType reports whether t is one of the object's types.
func (o *Object) HasType(t string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Contains(o.types, t)
}

// HasAnyType reports whether the type set intersects types. An empty filter
// matches every object.
func (o *Object) HasAnyType(types []string) bool {
	if len(types) == 0 {
		return true
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, t := range types {
		if slices.Contains(o.types, t) {
			return true
		}
	}
	return false
}

// Get returns a property value.
func (o *Object) Get(key string) (value.Value, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.props.Get(key)
}

// Property returns a property value, or Null when it is not set.
func (o *Object) Property(key string) value.Value {
	v, _ := o.Get(key)
	return v
}

// Keys returns the property names in insertion order.
func (o *Object) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.props.Keys()
}

// Props returns a copy of the property map.
func (o *Object) Props() *value.Map {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.props.Clone()
}

// Put stores a property. Only wrappers call it.
func (o *Object) Put(key string, v value.Value) {
	o.mu.Lock()
	o.props.Set(key, v)
	o.mu.Unlock()
}

// PutMap stores every entry of m.
func (o *Object) PutMap(m *value.Map) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m.Range(func(k string, v value.Value) bool {
		o.props.Set(k, v)
		return true
	})
}

// Drop removes a property. Only wrappers call it.
func (o *Object) Drop(key string) {
	o.mu.Lock()
	o.props.Delete(key)
	o.mu.Unlock()
}

// SetValue asks the wrapper to store a property. The wrapper may reject the
// write.
func (o *Object) SetValue(key string, v value.Value) error {
	return o.wrapper.SetValue(o, key, v)
}

// LastAccess returns the time of the last cache access.
func (o *Object) LastAccess() time.Time {
	ns := o.lastAccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// AccessCount returns the number of cache accesses.
func (o *Object) AccessCount() int64 { return o.accessCount.Load() }

func (o *Object) touch(now time.Time) {
	o.lastAccess.Store(now.UnixNano())
	o.accessCount.Add(1)
}

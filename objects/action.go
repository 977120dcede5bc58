package objects

import (
	"math"

	"github.com/google/uuid"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/value"
)

// ParamType is the type tag of an action parameter.
type ParamType uint8

const (
	ParamString ParamType = 1
	ParamU32    ParamType = 2
	ParamObjRef ParamType = 3
	ParamBool   ParamType = 4
)

func (t ParamType) String() string {
	switch t {
	case ParamString:
		return "string"
	case ParamU32:
		return "u32"
	case ParamObjRef:
		return "objref"
	case ParamBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Param describes one action parameter.
type Param struct {
	Name     string
	Type     ParamType
	Optional bool
	// Default is Null when the parameter has no default.
	Default value.Value
}

// ParamOption configures a parameter in AddParam.
type ParamOption func(*Param)

// Optional marks the parameter as optional.
func Optional() ParamOption {
	return func(p *Param) { p.Optional = true }
}

// Default sets the parameter default.
func Default(v any) ParamOption {
	return func(p *Param) { p.Default = value.FromAny(v) }
}

// Action is a processor operation bound to one target object.
type Action struct {
	Name      string
	Processor string
	Target    *Object

	params []*Param
	values map[string]value.Value
}

func newAction(processor, name string, target *Object) *Action {
	return &Action{
		Name:      name,
		Processor: processor,
		Target:    target,
		values:    make(map[string]value.Value),
	}
}

// AddParam declares a parameter. Declaring a name twice replaces the first
// declaration.
func (a *Action) AddParam(name string, typ ParamType, opts ...ParamOption) {
	p := &Param{Name: name, Type: typ}
	for _, opt := range opts {
		opt(p)
	}
	for i, old := range a.params {
		if old.Name == name {
			a.params[i] = p
			return
		}
	}
	a.params = append(a.params, p)
}

// Params returns the declared parameters in declaration order.
func (a *Action) Params() []Param {
	out := make([]Param, len(a.params))
	for i, p := range a.params {
		out[i] = *p
	}
	return out
}

func (a *Action) param(name string) *Param {
	for _, p := range a.params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Set assigns a parameter value, converting it to the declared type.
func (a *Action) Set(name string, v value.Value) error {
	p := a.param(name)
	if p == nil {
		return errors.ErrInvalidParamValue(name)
	}
	converted, ok := convertParam(p.Type, v)
	if !ok {
		return errors.ErrInvalidParamValue(name)
	}
	a.values[name] = converted
	return nil
}

func convertParam(t ParamType, v value.Value) (value.Value, bool) {
	switch t {
	case ParamString:
		return v.Coerce(value.KindString)
	case ParamBool:
		return v.Coerce(value.KindBool)
	case ParamU32:
		i, ok := v.Coerce(value.KindInt)
		if !ok || i.AsInt() < 0 || i.AsInt() > math.MaxUint32 {
			return value.Null, false
		}
		return i, true
	case ParamObjRef:
		s, ok := v.Coerce(value.KindString)
		if !ok {
			return value.Null, false
		}
		if _, _, err := ParseRef(s.AsString()); err != nil {
			return value.Null, false
		}
		return s, true
	}
	return value.Null, false
}

// Value returns the assigned value of a parameter, falling back to its
// default.
func (a *Action) Value(name string) (value.Value, bool) {
	if v, ok := a.values[name]; ok {
		return v, true
	}
	if p := a.param(name); p != nil && !p.Default.IsNull() {
		return p.Default, true
	}
	return value.Null, false
}

// Text returns a parameter as a string, empty when unset.
func (a *Action) Text(name string) string {
	v, _ := a.Value(name)
	return v.AsString()
}

// Uint returns a parameter as an unsigned integer, 0 when unset.
func (a *Action) Uint(name string) uint32 {
	v, _ := a.Value(name)
	return uint32(v.AsInt())
}

// Bool returns a parameter as a boolean, false when unset.
func (a *Action) Bool(name string) bool {
	v, _ := a.Value(name)
	return v.AsBool()
}

// Has reports whether a parameter has a value or a default.
func (a *Action) Has(name string) bool {
	_, ok := a.Value(name)
	return ok
}

func (a *Action) checkMandatory() error {
	for _, p := range a.params {
		if p.Optional {
			continue
		}
		if _, ok := a.Value(p.Name); !ok {
			return errors.ErrMissingParam(p.Name)
		}
	}
	return nil
}

// Progress is the opaque handle returned by asynchronous actions.
type Progress struct {
	ID string
}

// NewProgress returns a handle with a fresh id.
func NewProgress() *Progress {
	return &Progress{ID: uuid.NewString()}
}

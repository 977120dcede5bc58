package objects

import (
	"context"
	"fmt"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/value"
)

// Provider produces the objects of one owner.
type Provider interface {
	// Name is the owner name used as reference prefix.
	Name() string
	// Object returns the wrapper for oid. Unknown oids yield an
	// object-not-found error or a nil wrapper.
	Object(ctx context.Context, oid string) (Wrapper, error)
}

// Enumerator lists the oids of a provider.
type Enumerator interface {
	OIDs(ctx context.Context) ([]string, error)
}

// PartialEnumerator is implemented by enumerators whose OIDs returns a subset
// of the objects. Such providers must also implement Matcher.
type PartialEnumerator interface {
	Partial() bool
}

// Matcher searches oids without materialising every object. types is the
// requested type filter, possibly empty.
type Matcher interface {
	MatchOIDs(ctx context.Context, e expr.Expr, types []string) ([]string, error)
}

// AliasInferrer declares the oids denoting the same entity as an object.
// Invalidating the object invalidates every alias.
type AliasInferrer interface {
	InferOIDs(o *Object) []string
}

// QueryHooks are called around the lookups of one client request.
type QueryHooks interface {
	OnQueryStart(ctx context.Context) error
	OnQueryEnd(ctx context.Context)
}

// Wrapper is the provider side of one object.
type Wrapper interface {
	// Describe fills types and initial properties. It is called once.
	Describe(o *Object) error
	// Update refreshes mutable properties on every cache hit.
	Update(o *Object) error
	// SetValue stores a property or rejects the write.
	SetValue(o *Object, key string, v value.Value) error
}

// ReadOnly can be embedded in wrappers whose properties cannot be written.
type ReadOnly struct{}

// SetValue rejects every write with a key error.
func (ReadOnly) SetValue(o *Object, key string, _ value.Value) error {
	return errors.Wrap(fmt.Errorf("property %q of %s: %w", key, o.Ref(), errors.ErrKeyNotFound),
		"objects", "SetValue", "read-only object")
}

// NoUpdate can be embedded in wrappers whose properties never change.
type NoUpdate struct{}

// Update does nothing.
func (NoUpdate) Update(*Object) error { return nil }

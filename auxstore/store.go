package auxstore

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/value"
)

// Drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	// DriverMemory is an SQLite database living in memory, used by tests
	// and by daemons started without a storage path.
	DriverMemory = "memory"
)

// Property is a stored property with its serialised value.
type Property struct {
	Name    string
	Literal string
}

// ObjectStore is the object property half of a backend. Objects are keyed by
// their full reference.
type ObjectStore interface {
	SaveProperty(ctx context.Context, objref, prop, literal string) error
	// LoadProperty reports false when the property is not stored.
	LoadProperty(ctx context.Context, objref, prop string) (string, bool, error)
	// RemoveProperty deletes a property and the object when it has no
	// property left. Missing properties are not an error.
	RemoveProperty(ctx context.Context, objref, prop string) error
	ListProperties(ctx context.Context, objref string) ([]string, error)

	// SaveObject stores every given property, keeping the others.
	SaveObject(ctx context.Context, objref string, props []Property) error
	// LoadObject returns the properties sorted by name.
	LoadObject(ctx context.Context, objref string) ([]Property, error)
	RemoveObject(ctx context.Context, objref string) error
	// ListObjects returns the references starting with prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// SessionStore persists web sessions and their values.
type SessionStore interface {
	// TouchSession creates the session or moves its expiry.
	TouchSession(ctx context.Context, name string, expires time.Time) error
	// DeleteSession removes the session and all of its values.
	DeleteSession(ctx context.Context, name string) error
	// SessionExpiry reports false for unknown sessions.
	SessionExpiry(ctx context.Context, name string) (time.Time, bool, error)
	ExpiredSessions(ctx context.Context, now time.Time) ([]string, error)

	SaveValue(ctx context.Context, session, key, literal string) error
	LoadValue(ctx context.Context, session, key string) (string, bool, error)
	SessionValues(ctx context.Context, session string) ([]Property, error)
}

// Backend is a complete storage backend.
type Backend interface {
	ObjectStore
	SessionStore
	Close() error
}

// Open opens a backend by driver name. Path is ignored by DriverMemory.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQL(path)
	case DriverMemory:
		return OpenSQL(":memory:")
	case DriverBolt:
		return OpenBolt(path)
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "auxstore", "Open", "unknown driver "+driver)
	}
}

// Store gives providers owner scoped access to a backend.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default().With("component", "auxstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owner returns the property API scoped to one owner.
func (s *Store) Owner(owner string) *Props {
	return &Props{store: s, owner: owner}
}

// Sessions returns the session half of the backend.
func (s *Store) Sessions() SessionStore {
	return s.backend
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Props is the auxiliary property API of one owner. Object ids are given
// without the owner prefix.
type Props struct {
	store *Store
	owner string
}

// Owner returns the owner name.
func (p *Props) Owner() string { return p.owner }

func (p *Props) ref(oid string) string { return p.owner + ":" + oid }

// SaveObjectProperty stores one property value.
func (p *Props) SaveObjectProperty(ctx context.Context, oid, prop string, v value.Value) error {
	lit, err := value.Literal(v)
	if err != nil {
		return errors.WrapInvalid(err, "auxstore", "SaveObjectProperty", "serialise "+prop)
	}
	p.store.logger.Debug("Save property", "objref", p.ref(oid), "property", prop)
	return p.store.backend.SaveProperty(ctx, p.ref(oid), prop, lit)
}

// LoadObjectProperty returns a stored property value.
func (p *Props) LoadObjectProperty(ctx context.Context, oid, prop string) (value.Value, bool, error) {
	lit, ok, err := p.store.backend.LoadProperty(ctx, p.ref(oid), prop)
	if err != nil || !ok {
		return value.Null, false, err
	}
	v, err := value.Parse(lit)
	if err != nil {
		return value.Null, false, errors.WrapInvalid(err, "auxstore", "LoadObjectProperty", "parse "+prop)
	}
	return v, true, nil
}

// RemoveObjectProperty deletes a property. The object is pruned when it
// holds no property afterwards.
func (p *Props) RemoveObjectProperty(ctx context.Context, oid, prop string) error {
	return p.store.backend.RemoveProperty(ctx, p.ref(oid), prop)
}

// ListObjectProperties returns the stored property names of an object.
func (p *Props) ListObjectProperties(ctx context.Context, oid string) ([]string, error) {
	return p.store.backend.ListProperties(ctx, p.ref(oid))
}

// SaveObject stores every property of props. Properties not in props are
// kept.
func (p *Props) SaveObject(ctx context.Context, oid string, props *value.Map) error {
	stored := make([]Property, 0, props.Len())
	var err error
	props.Range(func(k string, v value.Value) bool {
		var lit string
		lit, err = value.Literal(v)
		if err != nil {
			err = errors.WrapInvalid(err, "auxstore", "SaveObject", "serialise "+k)
			return false
		}
		stored = append(stored, Property{Name: k, Literal: lit})
		return true
	})
	if err != nil {
		return err
	}
	return p.store.backend.SaveObject(ctx, p.ref(oid), stored)
}

// LoadObject returns all stored properties of an object, sorted by name. An
// unknown object yields an empty map.
func (p *Props) LoadObject(ctx context.Context, oid string) (*value.Map, error) {
	stored, err := p.store.backend.LoadObject(ctx, p.ref(oid))
	if err != nil {
		return nil, err
	}
	m := value.NewMap()
	for _, sp := range stored {
		v, err := value.Parse(sp.Literal)
		if err != nil {
			return nil, errors.WrapInvalid(err, "auxstore", "LoadObject", "parse "+sp.Name)
		}
		m.Set(sp.Name, v)
	}
	return m, nil
}

// RemoveObject deletes an object and all its properties.
func (p *Props) RemoveObject(ctx context.Context, oid string) error {
	return p.store.backend.RemoveObject(ctx, p.ref(oid))
}

// ListObjects returns the ids of the owner's stored objects.
func (p *Props) ListObjects(ctx context.Context) ([]string, error) {
	prefix := p.owner + ":"
	refs, err := p.store.backend.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}
	oids := make([]string, len(refs))
	for i, r := range refs {
		oids[i] = strings.TrimPrefix(r, prefix)
	}
	return oids, nil
}

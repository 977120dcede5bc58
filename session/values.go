package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nestormc/nestor/auxstore"
	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/value"
)

// valueBag holds the element values of a session, written through to the
// session store when there is one.
type valueBag struct {
	session string
	store   auxstore.SessionStore
	logger  *slog.Logger

	mu    sync.Mutex
	items map[string]value.Value
}

func (b *valueBag) Load(key string) (value.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.items[key]; ok {
		return v, true
	}
	if b.store == nil {
		return value.Null, false
	}
	lit, ok, err := b.store.LoadValue(context.Background(), b.session, key)
	if err != nil {
		b.logger.Warn("Failed to load session value", "key", key, "error", err)
		return value.Null, false
	}
	if !ok {
		return value.Null, false
	}
	v, err := value.Parse(lit)
	if err != nil {
		b.logger.Warn("Ignoring unreadable session value", "key", key, "error", err)
		return value.Null, false
	}
	b.items[key] = v
	return v, true
}

func (b *valueBag) Save(key string, v value.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = v
	if b.store == nil {
		return nil
	}
	lit, err := value.Literal(v)
	if err != nil {
		return errors.WrapInvalid(err, "session", "Save", "encode value "+key)
	}
	if err := b.store.SaveValue(context.Background(), b.session, key, lit); err != nil {
		return errors.WrapTransient(err, "session", "Save", "persist value "+key)
	}
	return nil
}

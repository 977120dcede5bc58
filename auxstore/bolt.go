package auxstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nestormc/nestor/errors"
)

var (
	bucketObjects  = []byte("objects")
	bucketSessions = []byte("web_sessions")
	bucketValues   = []byte("web_values")
)

// BoltStore is the bbolt backend. Objects are nested buckets of the objects
// bucket, keyed by reference; session values are nested buckets of
// web_values, keyed by session name.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapFatal(err, "auxstore", "OpenBolt", "open database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketSessions, bucketValues} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "auxstore", "OpenBolt", "initialize buckets")
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) update(method string, f func(*bolt.Tx) error) error {
	if err := s.db.Update(f); err != nil {
		return errors.WrapTransient(err, "auxstore", method, "update")
	}
	return nil
}

func (s *BoltStore) view(method string, f func(*bolt.Tx) error) error {
	if err := s.db.View(f); err != nil {
		return errors.WrapTransient(err, "auxstore", method, "view")
	}
	return nil
}

// SaveProperty implements ObjectStore.
func (s *BoltStore) SaveProperty(_ context.Context, objref, prop, literal string) error {
	return s.update("SaveProperty", func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketObjects).CreateBucketIfNotExists([]byte(objref))
		if err != nil {
			return err
		}
		return b.Put([]byte(prop), []byte(literal))
	})
}

// LoadProperty implements ObjectStore.
func (s *BoltStore) LoadProperty(_ context.Context, objref, prop string) (string, bool, error) {
	var (
		lit   string
		found bool
	)
	err := s.view("LoadProperty", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects).Bucket([]byte(objref))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(prop)); v != nil {
			lit, found = string(v), true
		}
		return nil
	})
	return lit, found, err
}

// RemoveProperty implements ObjectStore.
func (s *BoltStore) RemoveProperty(_ context.Context, objref, prop string) error {
	return s.update("RemoveProperty", func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		b := objects.Bucket([]byte(objref))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(prop)); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return objects.DeleteBucket([]byte(objref))
		}
		return nil
	})
}

// ListProperties implements ObjectStore.
func (s *BoltStore) ListProperties(_ context.Context, objref string) ([]string, error) {
	var names []string
	err := s.view("ListProperties", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects).Bucket([]byte(objref))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// SaveObject implements ObjectStore.
func (s *BoltStore) SaveObject(_ context.Context, objref string, props []Property) error {
	if len(props) == 0 {
		return nil
	}
	return s.update("SaveObject", func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketObjects).CreateBucketIfNotExists([]byte(objref))
		if err != nil {
			return err
		}
		for _, p := range props {
			if err := b.Put([]byte(p.Name), []byte(p.Literal)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadObject implements ObjectStore.
func (s *BoltStore) LoadObject(_ context.Context, objref string) ([]Property, error) {
	var props []Property
	err := s.view("LoadObject", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects).Bucket([]byte(objref))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			props = append(props, Property{Name: string(k), Literal: string(v)})
			return nil
		})
	})
	return props, err
}

// RemoveObject implements ObjectStore.
func (s *BoltStore) RemoveObject(_ context.Context, objref string) error {
	return s.update("RemoveObject", func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketObjects).DeleteBucket([]byte(objref))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// ListObjects implements ObjectStore.
func (s *BoltStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var refs []string
	err := s.view("ListObjects", func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObjects).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			refs = append(refs, string(k))
		}
		return nil
	})
	return refs, err
}

func encodeExpiry(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.Unix()))
	return b
}

func decodeExpiry(b []byte) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(b)), 0)
}

// TouchSession implements SessionStore.
func (s *BoltStore) TouchSession(_ context.Context, name string, expires time.Time) error {
	return s.update("TouchSession", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(name), encodeExpiry(expires))
	})
}

// DeleteSession implements SessionStore.
func (s *BoltStore) DeleteSession(_ context.Context, name string) error {
	return s.update("DeleteSession", func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Delete([]byte(name)); err != nil {
			return err
		}
		err := tx.Bucket(bucketValues).DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// SessionExpiry implements SessionStore.
func (s *BoltStore) SessionExpiry(_ context.Context, name string) (time.Time, bool, error) {
	var (
		expires time.Time
		found   bool
	)
	err := s.view("SessionExpiry", func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSessions).Get([]byte(name)); len(v) == 8 {
			expires, found = decodeExpiry(v), true
		}
		return nil
	})
	return expires, found, err
}

// ExpiredSessions implements SessionStore.
func (s *BoltStore) ExpiredSessions(_ context.Context, now time.Time) ([]string, error) {
	var names []string
	err := s.view("ExpiredSessions", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			if len(v) == 8 && !decodeExpiry(v).After(now) {
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, err
}

// SaveValue implements SessionStore.
func (s *BoltStore) SaveValue(_ context.Context, session, key, literal string) error {
	return s.update("SaveValue", func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketValues).CreateBucketIfNotExists([]byte(session))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(literal))
	})
}

// LoadValue implements SessionStore.
func (s *BoltStore) LoadValue(_ context.Context, session, key string) (string, bool, error) {
	var (
		lit   string
		found bool
	)
	err := s.view("LoadValue", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketValues).Bucket([]byte(session))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			lit, found = string(v), true
		}
		return nil
	})
	return lit, found, err
}

// SessionValues implements SessionStore.
func (s *BoltStore) SessionValues(_ context.Context, session string) ([]Property, error) {
	var props []Property
	err := s.view("SessionValues", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketValues).Bucket([]byte(session))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			props = append(props, Property{Name: string(k), Literal: string(v)})
			return nil
		})
	})
	return props, err
}

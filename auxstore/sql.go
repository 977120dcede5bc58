package auxstore

import (
	"context"
	"database/sql"
	"net/url"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // enable the "sqlite3" SQL driver

	"github.com/nestormc/nestor/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS objects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		objref TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS object_properties (
		object_id INTEGER NOT NULL,
		property TEXT NOT NULL,
		value TEXT,
		UNIQUE (object_id, property)
	)`,
	`CREATE TABLE IF NOT EXISTS web_sessions (
		name TEXT PRIMARY KEY,
		expires INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS web_values (
		session_name TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT,
		UNIQUE (session_name, key)
	)`,
}

// SQLStore is the SQLite backend.
type SQLStore struct {
	db *sql.DB
	// wmu serialises writers; SQLite would otherwise answer SQLITE_BUSY
	// under contention.
	wmu sync.Mutex
}

// OpenSQL opens or creates the SQLite database at path.
func OpenSQL(path string) (*SQLStore, error) {
	dsn := "file:" + url.PathEscape(path) + "?mode=rwc&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "auxstore", "OpenSQL", "open database")
	}
	if path == ":memory:" {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}
	return NewSQLStore(db)
}

// NewSQLStore creates the tables in db when needed. db must be a SQLite
// database.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, errors.WrapFatal(err, "auxstore", "NewSQLStore", "initialize schema")
		}
	}
	return &SQLStore{db: db}, nil
}

// DB returns the underlying database.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// transaction runs f in a transaction, committing when f succeeds.
func (s *SQLStore) transaction(ctx context.Context, method string, f func(*sql.Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "auxstore", method, "begin transaction")
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return errors.WrapTransient(err, "auxstore", method, "execute")
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "auxstore", method, "commit")
	}
	return nil
}

func objectID(ctx context.Context, tx *sql.Tx, objref string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO objects (objref) VALUES (?)`, objref); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM objects WHERE objref = ?`, objref).Scan(&id)
	return id, err
}

func upsertProperty(ctx context.Context, tx *sql.Tx, id int64, prop, literal string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO object_properties (object_id, property, value) VALUES (?, ?, ?)
		 ON CONFLICT (object_id, property) DO UPDATE SET value = excluded.value`,
		id, prop, literal)
	return err
}

// SaveProperty implements ObjectStore.
func (s *SQLStore) SaveProperty(ctx context.Context, objref, prop, literal string) error {
	return s.transaction(ctx, "SaveProperty", func(tx *sql.Tx) error {
		id, err := objectID(ctx, tx, objref)
		if err != nil {
			return err
		}
		return upsertProperty(ctx, tx, id, prop, literal)
	})
}

// LoadProperty implements ObjectStore.
func (s *SQLStore) LoadProperty(ctx context.Context, objref, prop string) (string, bool, error) {
	var lit sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT p.value FROM object_properties p JOIN objects o ON o.id = p.object_id
		 WHERE o.objref = ? AND p.property = ?`, objref, prop).Scan(&lit)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapTransient(err, "auxstore", "LoadProperty", "query")
	}
	return lit.String, true, nil
}

// RemoveProperty implements ObjectStore.
func (s *SQLStore) RemoveProperty(ctx context.Context, objref, prop string) error {
	return s.transaction(ctx, "RemoveProperty", func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM objects WHERE objref = ?`, objref).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM object_properties WHERE object_id = ? AND property = ?`, id, prop); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM objects WHERE id = ?
			 AND NOT EXISTS (SELECT 1 FROM object_properties WHERE object_id = ?)`, id, id)
		return err
	})
}

// ListProperties implements ObjectStore.
func (s *SQLStore) ListProperties(ctx context.Context, objref string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.property FROM object_properties p JOIN objects o ON o.id = p.object_id
		 WHERE o.objref = ? ORDER BY p.property`, objref)
	if err != nil {
		return nil, errors.WrapTransient(err, "auxstore", "ListProperties", "query")
	}
	return scanStrings(rows, "ListProperties")
}

// SaveObject implements ObjectStore.
func (s *SQLStore) SaveObject(ctx context.Context, objref string, props []Property) error {
	if len(props) == 0 {
		return nil
	}
	return s.transaction(ctx, "SaveObject", func(tx *sql.Tx) error {
		id, err := objectID(ctx, tx, objref)
		if err != nil {
			return err
		}
		for _, p := range props {
			if err := upsertProperty(ctx, tx, id, p.Name, p.Literal); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadObject implements ObjectStore.
func (s *SQLStore) LoadObject(ctx context.Context, objref string) ([]Property, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.property, p.value FROM object_properties p JOIN objects o ON o.id = p.object_id
		 WHERE o.objref = ? ORDER BY p.property`, objref)
	if err != nil {
		return nil, errors.WrapTransient(err, "auxstore", "LoadObject", "query")
	}
	return scanProperties(rows, "LoadObject")
}

// RemoveObject implements ObjectStore.
func (s *SQLStore) RemoveObject(ctx context.Context, objref string) error {
	return s.transaction(ctx, "RemoveObject", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM object_properties WHERE object_id IN (SELECT id FROM objects WHERE objref = ?)`,
			objref); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE objref = ?`, objref)
		return err
	})
}

// ListObjects implements ObjectStore.
func (s *SQLStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	query, args := `SELECT objref FROM objects WHERE objref >= ? ORDER BY objref`, []any{prefix}
	if end, ok := prefixEnd(prefix); ok {
		query, args = `SELECT objref FROM objects WHERE objref >= ? AND objref < ? ORDER BY objref`, []any{prefix, end}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "auxstore", "ListObjects", "query")
	}
	return scanStrings(rows, "ListObjects")
}

// prefixEnd returns the smallest string greater than every string starting
// with prefix, in byte order. ok is false when there is none.
func prefixEnd(prefix string) (end string, ok bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

// TouchSession implements SessionStore.
func (s *SQLStore) TouchSession(ctx context.Context, name string, expires time.Time) error {
	return s.transaction(ctx, "TouchSession", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO web_sessions (name, expires) VALUES (?, ?)
			 ON CONFLICT (name) DO UPDATE SET expires = excluded.expires`,
			name, expires.Unix())
		return err
	})
}

// DeleteSession implements SessionStore.
func (s *SQLStore) DeleteSession(ctx context.Context, name string) error {
	return s.transaction(ctx, "DeleteSession", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM web_values WHERE session_name = ?`, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM web_sessions WHERE name = ?`, name)
		return err
	})
}

// SessionExpiry implements SessionStore.
func (s *SQLStore) SessionExpiry(ctx context.Context, name string) (time.Time, bool, error) {
	var expires int64
	err := s.db.QueryRowContext(ctx, `SELECT expires FROM web_sessions WHERE name = ?`, name).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.WrapTransient(err, "auxstore", "SessionExpiry", "query")
	}
	return time.Unix(expires, 0), true, nil
}

// ExpiredSessions implements SessionStore.
func (s *SQLStore) ExpiredSessions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM web_sessions WHERE expires <= ? ORDER BY name`, now.Unix())
	if err != nil {
		return nil, errors.WrapTransient(err, "auxstore", "ExpiredSessions", "query")
	}
	return scanStrings(rows, "ExpiredSessions")
}

// SaveValue implements SessionStore.
func (s *SQLStore) SaveValue(ctx context.Context, session, key, literal string) error {
	return s.transaction(ctx, "SaveValue", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO web_values (session_name, key, value) VALUES (?, ?, ?)
			 ON CONFLICT (session_name, key) DO UPDATE SET value = excluded.value`,
			session, key, literal)
		return err
	})
}

// LoadValue implements SessionStore.
func (s *SQLStore) LoadValue(ctx context.Context, session, key string) (string, bool, error) {
	var lit sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM web_values WHERE session_name = ? AND key = ?`, session, key).Scan(&lit)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapTransient(err, "auxstore", "LoadValue", "query")
	}
	return lit.String, true, nil
}

// SessionValues implements SessionStore.
func (s *SQLStore) SessionValues(ctx context.Context, session string) ([]Property, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM web_values WHERE session_name = ? ORDER BY key`, session)
	if err != nil {
		return nil, errors.WrapTransient(err, "auxstore", "SessionValues", "query")
	}
	return scanProperties(rows, "SessionValues")
}

func scanStrings(rows *sql.Rows, method string) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.WrapTransient(err, "auxstore", method, "scan")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "auxstore", method, "iterate")
	}
	return out, nil
}

func scanProperties(rows *sql.Rows, method string) ([]Property, error) {
	defer rows.Close()
	var out []Property
	for rows.Next() {
		var p Property
		var lit sql.NullString
		if err := rows.Scan(&p.Name, &lit); err != nil {
			return nil, errors.WrapTransient(err, "auxstore", method, "scan")
		}
		p.Literal = lit.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "auxstore", method, "iterate")
	}
	return out, nil
}

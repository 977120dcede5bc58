// Package auxstore persists auxiliary object properties and web sessions.
//
// Providers use it to remember fields that live outside their upstream
// source, such as user set flags on downloads. Values are stored as JSON
// literals (see value.Literal) keyed by object reference and property name.
// The web layer stores session expiry and per-session values in the same
// database.
//
// Two backends implement Backend:
//   - SQLStore: SQLite through database/sql and github.com/mattn/go-sqlite3,
//     with the objects / object_properties / web_sessions / web_values tables
//   - BoltStore: a bbolt file with one nested bucket per object and session
//
// Writes are serialised per store (a mutex for SQLite, the single bbolt
// writer otherwise) and every operation commits on its own; no transaction
// spans two calls.
//
// Example:
//
//	backend, err := auxstore.Open(auxstore.DriverSQLite, "/var/lib/nestor/nestor.db")
//	store := auxstore.New(backend, auxstore.WithLogger(logger))
//	props := store.Owner("downloads")
//	err = props.SaveObjectProperty(ctx, "42", "starred", value.Bool(true))
package auxstore

// Package expr implements the search expressions used to select objects.
//
// An expression is a tree whose leaves are criteria (property, operator,
// value) and whose inner nodes are and/or compositions. The Empty
// expression matches everything.
//
// Expressions are evaluated two ways: Match filters an in-memory set of
// subjects, and ToSQL renders a parameterized WHERE clause for providers
// backed by a database. Both agree on the selected set for equivalent data.
//
//	e := expr.Or(
//	    expr.Where("artist", expr.OpEq, "X"),
//	    expr.Where("title", expr.OpContains, "Y"),
//	)
//	sql, params, err := expr.ToSQL(e, map[string]string{"artist": "a.name", "title": "t.title"})
//	// sql == "((a.name = ?) OR (t.title LIKE ?))", params == []any{"X", "%Y%"}
package expr

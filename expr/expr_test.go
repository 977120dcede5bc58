package expr

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/value"
)

type track struct {
	oid   string
	props map[string]any
}

func (t track) OID() string { return t.oid }

func (t track) Get(key string) (value.Value, bool) {
	v, ok := t.props[key]
	if !ok {
		return value.Null, false
	}
	return value.FromAny(v), true
}

func tracks() []track {
	return []track{
		{"1", map[string]any{"artist": "X", "title": "Intro", "year": 1990}},
		{"2", map[string]any{"artist": "Z", "title": "Yesterday", "year": 1965}},
		{"3", map[string]any{"artist": "X", "title": "Outro", "year": 2001}},
		{"4", map[string]any{"artist": "W", "title": "Blue", "year": 2010}},
		{"5", map[string]any{"title": "untitled y"}},
	}
}

func oids(ts []track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.oid
	}
	return out
}

func TestToSQLScenario(t *testing.T) {
	e := Or(Where("artist", OpEq, "X"), Where("title", OpContains, "Y"))

	sql, params, err := ToSQL(e, map[string]string{"artist": "a.name", "title": "t.title"})
	require.NoError(t, err)
	assert.Equal(t, `((a.name = ?) OR (t.title LIKE ? ESCAPE '\'))`, sql)
	assert.Equal(t, []any{"X", "%Y%"}, params)
}

func TestToSQLEmptyAndUnmapped(t *testing.T) {
	sql, params, err := ToSQL(Empty, nil)
	require.NoError(t, err)
	assert.Equal(t, "(1=?)", sql)
	assert.Equal(t, []any{1}, params)

	_, _, err = ToSQL(And(Where("artist", OpEq, "X"), Where("genre", OpPrefix, "ro")), map[string]string{"artist": "a.name"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrKeyNotFound))
	_, isObject := errors.AsObjectError(err)
	assert.False(t, isObject)
}

func TestToSQLNeverInterpolates(t *testing.T) {
	hostile := `x'); DROP TABLE t; --`
	e := And(Where("title", OpPrefix, hostile), Where("artist", OpSuffix, hostile))
	sql, params, err := ToSQL(e, map[string]string{"artist": "artist", "title": "title"})
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, `((title LIKE ? ESCAPE '\') AND (artist LIKE ? ESCAPE '\'))`, sql)
	assert.Equal(t, []any{hostile + "%", "%" + hostile}, params)
}

func TestMissingPropertyIsFalse(t *testing.T) {
	s := track{"9", map[string]any{"title": "Song"}}
	assert.False(t, Eval(Where("genre", OpEq, "rock"), s))
	assert.False(t, Eval(Where("genre", OpNe, "rock"), s))
	assert.True(t, Eval(Empty, s))
}

func TestOIDAndTextOperators(t *testing.T) {
	got := Match(Where(OIDProperty, OpEq, "3"), tracks())
	assert.Equal(t, []string{"3"}, oids(got))

	got = Match(Where("title", OpContains, "y"), tracks())
	assert.Equal(t, []string{"2", "5"}, oids(got))

	got = Match(Where("title", OpPrefix, "OUT"), tracks())
	assert.Equal(t, []string{"3"}, oids(got))

	got = Match(Where("title", OpSuffix, "RO"), tracks())
	assert.Equal(t, []string{"1", "3"}, oids(got))

	got = Match(Where("year", OpGe, "2001"), tracks())
	assert.Equal(t, []string{"3", "4"}, oids(got))
}

func TestCompositionLaws(t *testing.T) {
	leaves := []Expr{
		Where("artist", OpEq, "X"),
		Where("year", OpLt, 2000),
		Where("title", OpContains, "o"),
		Where("artist", OpNe, "Z"),
		Empty,
	}
	s := tracks()

	for i, e1 := range leaves {
		for j, e2 := range leaves {
			t.Run(fmt.Sprintf("%d-%d", i, j), func(t *testing.T) {
				m1 := Match(e1, s)
				assert.Subset(t, oids(s), oids(m1))

				and := Match(And(e1, e2), s)
				assert.Equal(t, oids(Match(e2, m1)), oids(and))

				rest := without(s, m1)
				union := append(oids(m1), oids(Match(e2, rest))...)
				assert.ElementsMatch(t, union, oids(Match(Or(e1, e2), s)))
			})
		}
	}
	assert.Equal(t, oids(s), oids(Match(Empty, s)))
}

func without(s, remove []track) []track {
	drop := map[string]bool{}
	for _, r := range remove {
		drop[r.oid] = true
	}
	var out []track
	for _, t := range s {
		if !drop[t.oid] {
			out = append(out, t)
		}
	}
	return out
}

func queryOIDs(t *testing.T, db *sql.DB, table string, e Expr, columns map[string]string) []string {
	t.Helper()
	where, params, err := ToSQL(e, columns)
	require.NoError(t, err)

	rows, err := db.Query("SELECT oid FROM "+table+" WHERE "+where+" ORDER BY oid", params...)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var oid string
		require.NoError(t, rows.Scan(&oid))
		got = append(got, oid)
	}
	require.NoError(t, rows.Err())
	return got
}

func TestSQLAgreesWithMatch(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE tracks (oid TEXT, artist TEXT, title TEXT, year INTEGER)`)
	require.NoError(t, err)
	for _, tr := range tracks() {
		_, err = db.Exec(`INSERT INTO tracks VALUES (?, ?, ?, ?)`,
			tr.oid, tr.props["artist"], tr.props["title"], tr.props["year"])
		require.NoError(t, err)
	}

	columns := map[string]string{"oid": "oid", "artist": "artist", "title": "title", "year": "year"}
	exprs := []Expr{
		Empty,
		Where("artist", OpEq, "X"),
		Or(Where("artist", OpEq, "X"), Where("title", OpContains, "y")),
		And(Where("year", OpGt, 1980), Where("title", OpSuffix, "ro")),
		Or(And(Where("artist", OpNe, "X"), Where("year", OpLe, 2010)), Where(OIDProperty, OpEq, "5")),
	}

	for _, e := range exprs {
		t.Run(e.String(), func(t *testing.T) {
			assert.Equal(t, oids(Match(e, tracks())), queryOIDs(t, db, "tracks", e, columns))
		})
	}
}

func TestSQLMatchesWildcardsLiterally(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	titles := []track{
		{"1", map[string]any{"title": "50% off"}},
		{"2", map[string]any{"title": "500 miles"}},
		{"3", map[string]any{"title": "a_b"}},
		{"4", map[string]any{"title": "axb"}},
		{"5", map[string]any{"title": `back\slash`}},
		{"6", map[string]any{"title": "backslash"}},
	}
	_, err = db.Exec(`CREATE TABLE titles (oid TEXT, title TEXT)`)
	require.NoError(t, err)
	for _, tr := range titles {
		_, err = db.Exec(`INSERT INTO titles VALUES (?, ?)`, tr.oid, tr.props["title"])
		require.NoError(t, err)
	}

	columns := map[string]string{"title": "title"}
	tests := []struct {
		expr Expr
		want []string
	}{
		{Where("title", OpContains, "50%"), []string{"1"}},
		{Where("title", OpContains, "a_b"), []string{"3"}},
		{Where("title", OpPrefix, "50%"), []string{"1"}},
		{Where("title", OpSuffix, "_b"), []string{"3"}},
		{Where("title", OpContains, `k\s`), []string{"5"}},
		{Where("title", OpContains, "%"), []string{"1"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, oids(Match(tt.expr, titles)))
			assert.Equal(t, tt.want, queryOIDs(t, db, "titles", tt.expr, columns))
		})
	}
}

func TestParse(t *testing.T) {
	e, err := Parse(`artist == "X" or (year >= 1990 and title ~ live)`)
	require.NoError(t, err)

	want := Or(
		Where("artist", OpEq, "X"),
		And(Where("year", OpGe, 1990), Where("title", OpContains, "live")),
	)
	assert.Equal(t, want.String(), e.String())

	back, err := Parse(e.String())
	require.NoError(t, err)
	assert.Equal(t, e.String(), back.String())

	empty, err := Parse("  ")
	require.NoError(t, err)
	assert.True(t, IsEmpty(empty))

	for _, bad := range []string{"artist ==", "artist =~ 3", "(a == 1", "a == 1 xor b == 2"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
		assert.True(t, errors.IsInvalid(err), bad)
	}
}

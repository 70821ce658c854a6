package dialect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_Shapes(t *testing.T) {
	d := NewMySQL()
	cases := []struct {
		name    string
		columns []string
		table   string
		alias   string
		where   string
		want    string
	}{
		{"columns and where", []string{"id", "name"}, "t", "", "id = 1", "SELECT id, name FROM t WHERE id = 1"},
		{"no columns", nil, "t", "", "", "SELECT * FROM t"},
		{"order by passes through", []string{"id"}, "t", "", "ORDER BY id", "SELECT id FROM t ORDER BY id"},
		{"group by passes through", []string{"kind"}, "t", "", "group by kind", "SELECT kind FROM t group by kind"},
		{"having passes through", []string{"kind"}, "t", "", "HAVING COUNT(*) > 1", "SELECT kind FROM t HAVING COUNT(*) > 1"},
		{"leading where kept", []string{"id"}, "t", "", "WHERE id > 3", "SELECT id FROM t WHERE id > 3"},
		{"blank where", []string{"id"}, "t", "", "   ", "SELECT id FROM t"},
		{"alias prefixes plain columns", []string{"id", "u.name", "COUNT(*)"}, "users", "u", "u.id = ?", "SELECT u.id, u.name, COUNT(*) FROM users u WHERE u.id = ?"},
		{"ordering is not a where", []string{"id"}, "t", "", "ordering = 1", "SELECT id FROM t WHERE ordering = 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, d.Select(tc.columns, tc.table, tc.alias, tc.where))
		})
	}
}

func TestInsert(t *testing.T) {
	d := NewMySQL()
	q, err := d.Insert([]string{"name", "age"}, "users", "id", "")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name, age) VALUES (?, ?)", q)

	q, err = d.Insert([]string{"name"}, "users", "id", "user_seq")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (id, name) VALUES (NEXTVAL(user_seq), ?)", q)

	_, err = d.Insert(nil, "users", "id", "")
	assert.True(t, errors.Is(err, ErrSQLBuild))

	_, err = NewSQLite().Insert([]string{"name"}, "users", "id", "user_seq")
	assert.ErrorIs(t, err, ErrSQLBuild)
}

func TestUpdateDeleteCount(t *testing.T) {
	d := NewSQLite()
	q, err := d.Update([]string{"name", "age"}, "users", "", "id = ?")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name=?, age=? WHERE id = ?", q)

	q, err = d.Update([]string{"name"}, "users", "u", "u.id = ?")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users u SET u.name=? WHERE u.id = ?", q)

	_, err = d.Update(nil, "users", "", "id = 1")
	assert.ErrorIs(t, err, ErrSQLBuild)

	assert.Equal(t, "DELETE FROM users WHERE id = ?", d.Delete("users", "id = ?"))
	assert.Equal(t, "DELETE FROM users", d.Delete("users", ""))
	assert.Equal(t, "SELECT COUNT(*) FROM users u WHERE u.age > 3", d.Count("users", "u", "u.age > 3"))
}

func TestCountWith_StripsTrailingOrderBy(t *testing.T) {
	d := NewMySQL()
	assert.Equal(t,
		"SELECT COUNT(*) FROM (SELECT id FROM t WHERE a = 1) count_alias",
		d.CountWith("SELECT id FROM t WHERE a = 1 ORDER BY id DESC"))
	assert.Equal(t,
		"SELECT COUNT(*) FROM (SELECT id FROM (SELECT id FROM t ORDER BY id) x) count_alias",
		d.CountWith("SELECT id FROM (SELECT id FROM t ORDER BY id) x"))
}

func TestPaginate(t *testing.T) {
	d := NewMySQL()
	assert.Equal(t, "SELECT id FROM t ORDER BY id LIMIT 10 OFFSET 10", d.Paginate([]string{"id"}, "t", "", "ORDER BY id", 2, 10))
	assert.Equal(t, "SELECT * FROM t LIMIT 5 OFFSET 0", d.Paginate(nil, "t", "", "", 0, 5))
	assert.Equal(t, "SELECT * FROM t LIMIT 1 OFFSET 2", d.PaginateWith("SELECT * FROM t", 3, -4))

	count := "SELECT COUNT(*) FROM t WHERE a = 1"
	assert.Equal(t, count, d.PaginateWith(count, 1, 1))
	assert.Equal(t, count+" LIMIT 1 OFFSET 1", d.PaginateWith(count, 2, 1))
	assert.Equal(t, "SELECT id, COUNT(*) FROM t LIMIT 1 OFFSET 0", d.PaginateWith("SELECT id, COUNT(*) FROM t", 1, 1))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?,?,?", NewMySQL().Placeholders(3))
	assert.Equal(t, "", NewMySQL().Placeholders(0))
	assert.Equal(t, "$1,$2,$3", NewPostgres().Placeholders(3))
}

func TestPostgres_RenumbersMarkers(t *testing.T) {
	d := NewPostgres()
	q, err := d.Update([]string{"name", "age"}, "users", "", "id = ?")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name=$1, age=$2 WHERE id = $3", q)

	q, err = d.Insert([]string{"name"}, "users", "id", "users_id_seq")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (id, name) VALUES (nextval('users_id_seq'), $1)", q)

	assert.Equal(t, "SELECT id FROM users WHERE age > $1 AND name = $2 LIMIT 20 OFFSET 40",
		d.Paginate([]string{"id"}, "users", "", "age > ? AND name = ?", 3, 20))
	assert.Equal(t, "DELETE FROM users WHERE id IN ($1,$2)", d.Delete("users", "id IN (?,?)"))
}

func TestUpdate_LeavesColumnsUntouched(t *testing.T) {
	for _, d := range []Dialect{NewMySQL(), NewSQLite(), NewPostgres()} {
		cols := []string{"name", "age"}
		first, err := d.Update(cols, "users", "", "id = ?")
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "age"}, cols, d.Name())

		second, err := d.Update(cols, "users", "", "id = ?")
		require.NoError(t, err)
		assert.Equal(t, first, second, d.Name())

		_ = d.Select(cols, "users", "", "")
		_, err = d.Insert(cols, "users", "id", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "age"}, cols, d.Name())
	}
}

func TestPostgres_RebindSkipsQuotedText(t *testing.T) {
	d := NewPostgres()
	assert.Equal(t, "SELECT * FROM faq WHERE question = 'why?' AND id = $1",
		d.Select(nil, "faq", "", "question = 'why?' AND id = ?"))
	assert.Equal(t, `SELECT * FROM docs WHERE data ? 'key' AND "odd?col" = $1`,
		d.Select(nil, "docs", "", `data ?? 'key' AND "odd?col" = ?`))
	assert.Equal(t, "DELETE FROM t WHERE note = 'it''s?' AND id = $1",
		d.Delete("t", "note = 'it''s?' AND id = ?"))
	assert.Equal(t, "a = 'x?' AND b = $1", d.Rebind("a = 'x?' AND b = ?"))
	assert.Equal(t, "a = 'x?' AND b = ?", NewMySQL().Rebind("a = 'x?' AND b = ?"))
}

func TestGet(t *testing.T) {
	for _, name := range []string{"mysql", "MySQL", "pgx", "postgres", "sqlite", "sqlite3"} {
		d, err := Get(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, d.Name())
	}
	_, err := Get("oracle")
	assert.Error(t, err)

	Register("custom", NewSQLite)
	d, err := Get("custom")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d.Name())
	assert.Contains(t, Names(), "custom")
}

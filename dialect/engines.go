package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"
)

const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// NewMySQL returns the MySQL/MariaDB dialect.
func NewMySQL() Dialect {
	return base{
		name:     MySQL,
		sequence: func(seq string) (string, error) { return fmt.Sprintf("NEXTVAL(%s)", seq), nil },
		limit:    limitOffset,
	}
}

// NewSQLite returns the SQLite dialect. SQLite has no sequences, so an
// Insert that names one fails with ErrSQLBuild.
func NewSQLite() Dialect {
	return base{
		name: SQLite,
		sequence: func(seq string) (string, error) {
			return "", buildError("sqlite does not support sequence %q", seq)
		},
		limit: limitOffset,
	}
}

// postgres renders $n markers. Statements are built with ? markers first
// and then renumbered, so where fragments may be written with ? as well.
// A ? inside a quoted literal stays as is; write ?? for the jsonb ? operator.
type postgres struct{ base }

// NewPostgres returns the PostgreSQL dialect.
func NewPostgres() Dialect {
	return postgres{base{
		name:     Postgres,
		sequence: func(seq string) (string, error) { return fmt.Sprintf("nextval('%s')", seq), nil },
		limit:    limitOffset,
	}}
}

func (p postgres) Rebind(query string) string {
	out, err := squirrel.Dollar.ReplacePlaceholders(escapeQuoted(query))
	if err != nil {
		return query
	}
	return out
}

// escapeQuoted doubles every ? inside '...' and "..." so that squirrel
// keeps it as text instead of numbering it.
func escapeQuoted(query string) string {
	if !strings.ContainsAny(query, `'"`) || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0 && c == '?':
			b.WriteString("??")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (p postgres) Select(columns []string, table, alias, where string) string {
	return p.Rebind(p.base.Select(columns, table, alias, where))
}

func (p postgres) Insert(columns []string, table, primaryKey, sequence string) (string, error) {
	q, err := p.base.Insert(columns, table, primaryKey, sequence)
	if err != nil {
		return "", err
	}
	return p.Rebind(q), nil
}

func (p postgres) Update(columns []string, table, alias, where string) (string, error) {
	q, err := p.base.Update(columns, table, alias, where)
	if err != nil {
		return "", err
	}
	return p.Rebind(q), nil
}

func (p postgres) Delete(table, where string) string {
	return p.Rebind(p.base.Delete(table, where))
}

func (p postgres) Count(table, alias, where string) string {
	return p.Rebind(p.base.Count(table, alias, where))
}

func (p postgres) Paginate(columns []string, table, alias, where string, page, size int) string {
	return p.base.PaginateWith(p.Select(columns, table, alias, where), page, size)
}

func (p postgres) Placeholders(n int) string {
	return p.Rebind(p.base.Placeholders(n))
}

var (
	mu       sync.RWMutex
	dialects = map[string]func() Dialect{
		MySQL:        NewMySQL,
		"mariadb":    NewMySQL,
		Postgres:     NewPostgres,
		"pgx":        NewPostgres,
		"postgresql": NewPostgres,
		SQLite:       NewSQLite,
		"sqlite3":    NewSQLite,
	}
)

// Register makes a dialect available under name, replacing any existing one.
func Register(name string, fn func() Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[strings.ToLower(name)] = fn
}

// Get returns the dialect registered for name (driver names are accepted).
func Get(name string) (Dialect, error) {
	mu.RLock()
	fn, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dialect: unknown dialect %q", name)
	}
	return fn(), nil
}

// Names lists the registered dialect names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(dialects))
	for k := range dialects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

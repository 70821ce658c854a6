// Package dialect generates SQL text for the supported database engines.
//
// Every function here is pure: it only assembles strings. Where fragments
// are free text supplied by the caller and are never parsed beyond the
// leading keyword.
package dialect

import (
	"fmt"
	"regexp"
	"strings"
)

// Table describes a table for statement generation.
type Table struct {
	Name       string
	Alias      string
	PrimaryKey string
	// Sequence, when set, supplies primary key values on insert.
	Sequence string
	Columns  []string
}

// Dialect generates SQL text for one engine.
type Dialect interface {
	Name() string
	Select(columns []string, table, alias, where string) string
	Insert(columns []string, table, primaryKey, sequence string) (string, error)
	Update(columns []string, table, alias, where string) (string, error)
	Delete(table, where string) string
	Count(table, alias, where string) string
	CountWith(query string) string
	Paginate(columns []string, table, alias, where string, page, size int) string
	PaginateWith(query string, page, size int) string
	// Placeholders returns n comma separated positional markers.
	Placeholders(n int) string
	// Rebind converts ?-style markers to the engine's native style. Engines
	// using ? return query unchanged. Others leave ? inside quoted literals
	// alone and read ?? as a literal ? (the PostgreSQL jsonb key operator).
	// Apply it once, to text that still uses ? markers.
	Rebind(query string) string
}

var (
	passthroughPattern = regexp.MustCompile(`(?i)^(ORDER\s+BY|GROUP\s+BY|HAVING|WHERE|LIMIT)\b`)
	identPattern       = regexp.MustCompile(`^(\*|[A-Za-z_][A-Za-z0-9_]*)$`)
	countOnlyPattern   = regexp.MustCompile(`(?i)^\s*SELECT\s+((COUNT)\([\s\S]*\)\s*,?)+((\s*)|(\s+FROM[\s\S]*))?$`)
	trailingOrderBy    = regexp.MustCompile(`(?is)\s+ORDER\s+BY\s+[^()]*$`)
)

// base implements the statement shapes shared by every engine using
// ?-markers. Engines plug in their sequence and limit syntax.
type base struct {
	name     string
	sequence func(seq string) (string, error)
	limit    func(size, offset int) string
}

func (b base) Name() string { return b.name }

func whereClause(where string) string {
	w := strings.TrimSpace(where)
	if w == "" {
		return ""
	}
	if passthroughPattern.MatchString(w) {
		return " " + w
	}
	return " WHERE " + w
}

func aliasClause(alias string) string {
	a := strings.TrimSpace(alias)
	if a == "" {
		return ""
	}
	return " " + a
}

func qualify(alias string, columns []string) []string {
	a := strings.TrimSpace(alias)
	out := make([]string, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if a != "" && identPattern.MatchString(c) {
			out[i] = a + "." + c
		} else {
			out[i] = c
		}
	}
	return out
}

func columnList(alias string, columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	return strings.Join(qualify(alias, columns), ", ")
}

func (b base) Select(columns []string, table, alias, where string) string {
	return fmt.Sprintf("SELECT %s FROM %s%s%s", columnList(alias, columns), table, aliasClause(alias), whereClause(where))
}

func (b base) Insert(columns []string, table, primaryKey, sequence string) (string, error) {
	useSeq := strings.TrimSpace(primaryKey) != "" && strings.TrimSpace(sequence) != ""
	if len(columns) == 0 && !useSeq {
		return "", buildError("no columns to insert into %s", table)
	}
	cols := make([]string, 0, len(columns)+1)
	vals := make([]string, 0, len(columns)+1)
	if useSeq {
		next, err := b.sequence(sequence)
		if err != nil {
			return "", err
		}
		cols = append(cols, primaryKey)
		vals = append(vals, next)
	}
	for _, c := range columns {
		cols = append(cols, c)
		vals = append(vals, "?")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(vals, ", ")), nil
}

func (b base) Update(columns []string, table, alias, where string) (string, error) {
	if len(columns) == 0 {
		return "", buildError("no columns to update in %s", table)
	}
	sets := qualify(alias, columns)
	for i := range sets {
		sets[i] += "=?"
	}
	return fmt.Sprintf("UPDATE %s%s SET %s%s", table, aliasClause(alias), strings.Join(sets, ", "), whereClause(where)), nil
}

func (b base) Delete(table, where string) string {
	return fmt.Sprintf("DELETE FROM %s%s", table, whereClause(where))
}

func (b base) Count(table, alias, where string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s%s", table, aliasClause(alias), whereClause(where))
}

func (b base) CountWith(query string) string {
	q := strings.TrimSpace(query)
	if loc := trailingOrderBy.FindStringIndex(q); loc != nil {
		q = q[:loc[0]]
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) count_alias", q)
}

func (b base) Paginate(columns []string, table, alias, where string, page, size int) string {
	return b.PaginateWith(b.Select(columns, table, alias, where), page, size)
}

func (b base) PaginateWith(query string, page, size int) string {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 1
	}
	if page == 1 && size == 1 && countOnlyPattern.MatchString(query) {
		return query
	}
	return query + " " + b.limit(size, (page-1)*size)
}

func (b base) Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (b base) Rebind(query string) string { return query }

func limitOffset(size, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", size, offset)
}

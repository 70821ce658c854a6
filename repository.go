package ygggo_orm

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/yggai/ygggo_orm/dialect"
)

const (
	// DefaultPageSize is used when Page is called with a size below 1.
	DefaultPageSize = 20
	// MaxPageSize caps the page size accepted by Page.
	MaxPageSize = 100
)

// Page is one page of rows plus the totals needed to render a pager.
type Page struct {
	Items      []Record `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalItems int64    `json:"total_items"`
	TotalPages int      `json:"total_pages"`
}

// HasNext reports whether a later page exists.
func (p *Page) HasNext() bool { return p.Page < p.TotalPages }

// HasPrevious reports whether an earlier page exists.
func (p *Page) HasPrevious() bool { return p.Page > 1 }

// Repository is a table-bound CRUD helper. Where fragments and their
// arguments use ? markers regardless of the engine. On PostgreSQL a ?
// inside a quoted literal is kept as text and ?? stands for the jsonb ?
// operator.
type Repository struct {
	exec    *Executor
	dialect dialect.Dialect
	table   dialect.Table
}

// NewRepository binds table to exec. A nil d uses the executor's dialect.
func NewRepository(exec *Executor, d dialect.Dialect, table dialect.Table) *Repository {
	if d == nil {
		d = exec.Dialect()
	}
	if table.PrimaryKey == "" {
		table.PrimaryKey = "id"
	}
	return &Repository{exec: exec, dialect: d, table: table}
}

func (r *Repository) Table() dialect.Table { return r.table }

func buildFailure(op string, err error) error {
	return wrapStatementError(err, op, "", nil)
}

// FindByID returns the row whose primary key equals id, or nil.
func (r *Repository) FindByID(ctx context.Context, id any) (Record, error) {
	return r.First(ctx, r.table.PrimaryKey+" = ?", id)
}

// First returns the first row matching where, or nil when none does.
func (r *Repository) First(ctx context.Context, where string, args ...any) (Record, error) {
	q := r.dialect.PaginateWith(r.dialect.Select(r.table.Columns, r.table.Name, r.table.Alias, where), 1, 1)
	rec, err := r.exec.SelectFirst(ctx, dialect.SelectStmt(q, args...))
	if err != nil || len(rec) == 0 {
		return nil, err
	}
	return rec, nil
}

// Find returns every row matching where.
func (r *Repository) Find(ctx context.Context, where string, args ...any) ([]Record, error) {
	q := r.dialect.Select(r.table.Columns, r.table.Name, r.table.Alias, where)
	return r.exec.Select(ctx, dialect.SelectStmt(q, args...))
}

// Count returns the number of rows matching where.
func (r *Repository) Count(ctx context.Context, where string, args ...any) (int64, error) {
	return r.countQuery(ctx, r.dialect.Count(r.table.Name, r.table.Alias, where), args)
}

func (r *Repository) countQuery(ctx context.Context, q string, args []any) (int64, error) {
	rec, err := r.exec.SelectFirst(ctx, dialect.SelectStmt(q, args...))
	if err != nil {
		return 0, err
	}
	for _, v := range rec {
		return toInt64(v)
	}
	return 0, nil
}

// Page returns one page of rows matching where together with the totals.
// A trailing ORDER BY in where is dropped from the count query.
func (r *Repository) Page(ctx context.Context, page, size int, where string, args ...any) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	listing := r.dialect.Select(r.table.Columns, r.table.Name, r.table.Alias, where)
	total, err := r.countQuery(ctx, r.dialect.CountWith(listing), args)
	if err != nil {
		return nil, err
	}
	q := r.dialect.PaginateWith(listing, page, size)
	items, err := r.exec.Select(ctx, dialect.SelectStmt(q, args...))
	if err != nil {
		return nil, err
	}
	pages := int((total + int64(size) - 1) / int64(size))
	if pages < 1 {
		pages = 1
	}
	return &Page{Items: items, Page: page, PageSize: size, TotalItems: total, TotalPages: pages}, nil
}

// sortedColumns returns the keys of values in a stable order.
func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func (r *Repository) insertSQL(cols []string) (string, error) {
	q, err := r.dialect.Insert(cols, r.table.Name, r.table.PrimaryKey, r.table.Sequence)
	if err != nil {
		return "", err
	}
	if r.dialect.Name() == dialect.Postgres {
		q += " RETURNING " + r.table.PrimaryKey
	}
	return q, nil
}

// Insert writes one row and returns its generated key.
func (r *Repository) Insert(ctx context.Context, values map[string]any) (int64, error) {
	cols := sortedColumns(values)
	q, err := r.insertSQL(cols)
	if err != nil {
		return 0, buildFailure("insert", err)
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	return r.exec.Insert(ctx, dialect.InsertStmt(q, args...))
}

// InsertMany writes rows as one batch. Every row must carry the columns of
// the first one.
func (r *Repository) InsertMany(ctx context.Context, rows []map[string]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := sortedColumns(rows[0])
	q, err := r.dialect.Insert(cols, r.table.Name, r.table.PrimaryKey, r.table.Sequence)
	if err != nil {
		return 0, buildFailure("insert_batch", err)
	}
	batch := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(cols) {
			return 0, buildFailure("insert_batch", fmt.Errorf("%w: row %d has %d columns, want %d", ErrSQLBuild, i, len(row), len(cols)))
		}
		args := make([]any, len(cols))
		for j, c := range cols {
			v, ok := row[c]
			if !ok {
				return 0, buildFailure("insert_batch", fmt.Errorf("%w: row %d is missing column %s", ErrSQLBuild, i, c))
			}
			args[j] = v
		}
		batch[i] = args
	}
	return r.exec.InsertBatch(ctx, dialect.InsertStmt(q), batch)
}

// UpdateByID sets values on the row whose primary key equals id.
func (r *Repository) UpdateByID(ctx context.Context, id any, values map[string]any) (int64, error) {
	cols := sortedColumns(values)
	q, err := r.dialect.Update(cols, r.table.Name, "", r.table.PrimaryKey+" = ?")
	if err != nil {
		return 0, buildFailure("update", err)
	}
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		args = append(args, values[c])
	}
	return r.exec.Update(ctx, dialect.UpdateStmt(q, append(args, id)...))
}

// DeleteByID removes the row whose primary key equals id.
func (r *Repository) DeleteByID(ctx context.Context, id any) (int64, error) {
	q := r.dialect.Delete(r.table.Name, r.table.PrimaryKey+" = ?")
	return r.exec.Delete(ctx, dialect.DeleteStmt(q, id))
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected count value %v (%T)", v, v)
	}
}

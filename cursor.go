package ygggo_orm

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Record is one result row keyed by column name.
type Record map[string]any

// Cursor runs statements on a Connection and reads their results. A cursor
// holds at most one open result set; Close is idempotent.
type Cursor struct {
	conn    *Connection
	rows    *sql.Rows
	result  sql.Result
	release func()
	types   []*sql.ColumnType
	closed  bool
}

// begin derives a context that also ends when the connection is cancelled.
func (cur *Cursor) begin(ctx context.Context) (target, *stmtCache, context.Context, error) {
	if cur.closed {
		return nil, nil, nil, newError(CodeNotConnected, "cursor", "cursor is closed")
	}
	cur.closeRows()
	t, stmts, life, err := cur.conn.snapshot()
	if err != nil {
		return nil, nil, nil, err
	}
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, cancel)
	cur.release = func() {
		stop()
		cancel()
	}
	cur.conn.usage.Add(1)
	return t, stmts, opCtx, nil
}

// Exec runs a statement that returns no rows.
func (cur *Cursor) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t, stmts, opCtx, err := cur.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.closeRows()
	var res sql.Result
	if stmts != nil {
		var st *sql.Stmt
		st, _, err = stmts.getOrPrepare(opCtx, t, query)
		if err == nil {
			res, err = st.ExecContext(opCtx, args...)
		}
	} else {
		res, err = t.ExecContext(opCtx, query, args...)
	}
	if err != nil {
		return nil, err
	}
	cur.result = res
	return res, nil
}

// ExecBatch prepares query once and runs it for every argument row,
// returning the summed affected row count.
func (cur *Cursor) ExecBatch(ctx context.Context, query string, rows [][]any) (int64, error) {
	t, _, opCtx, err := cur.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer cur.closeRows()
	st, err := t.PrepareContext(opCtx, query)
	if err != nil {
		return 0, err
	}
	defer st.Close()
	var total int64
	for _, args := range rows {
		res, err := st.ExecContext(opCtx, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Query runs a statement that returns rows; read them with FetchOne or FetchAll.
func (cur *Cursor) Query(ctx context.Context, query string, args ...any) error {
	t, stmts, opCtx, err := cur.begin(ctx)
	if err != nil {
		return err
	}
	var rows *sql.Rows
	if stmts != nil {
		var st *sql.Stmt
		st, _, err = stmts.getOrPrepare(opCtx, t, query)
		if err == nil {
			rows, err = st.QueryContext(opCtx, args...)
		}
	} else {
		rows, err = t.QueryContext(opCtx, query, args...)
	}
	if err != nil {
		cur.closeRows()
		return err
	}
	cur.rows = rows
	cur.types, err = rows.ColumnTypes()
	if err != nil {
		cur.closeRows()
		return err
	}
	return nil
}

// Columns returns the column names of the current result set.
func (cur *Cursor) Columns() []string {
	out := make([]string, len(cur.types))
	for i, t := range cur.types {
		out[i] = t.Name()
	}
	return out
}

// FetchOne returns the next row, or nil once the result set is exhausted.
func (cur *Cursor) FetchOne() (Record, error) {
	if cur.rows == nil {
		return nil, nil
	}
	if !cur.rows.Next() {
		err := cur.rows.Err()
		cur.closeRows()
		return nil, err
	}
	rec := make(map[string]any, len(cur.types))
	if err := sqlx.MapScan(cur.rows, rec); err != nil {
		return nil, err
	}
	cur.normalize(rec)
	return Record(rec), nil
}

// FetchAll returns the remaining rows in result set order.
func (cur *Cursor) FetchAll() ([]Record, error) {
	out := make([]Record, 0)
	for {
		rec, err := cur.FetchOne()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		out = append(out, rec)
	}
}

// normalize turns driver byte slices into strings except for binary columns.
func (cur *Cursor) normalize(rec map[string]any) {
	for _, t := range cur.types {
		b, ok := rec[t.Name()].([]byte)
		if !ok {
			continue
		}
		if isBinaryType(t.DatabaseTypeName()) {
			rec[t.Name()] = append([]byte(nil), b...)
		} else {
			rec[t.Name()] = string(b)
		}
	}
}

func isBinaryType(name string) bool {
	n := strings.ToUpper(name)
	return strings.Contains(n, "BLOB") || strings.Contains(n, "BINARY") || n == "BYTEA"
}

// RowsAffected reports the affected row count of the last Exec.
func (cur *Cursor) RowsAffected() (int64, error) {
	if cur.result == nil {
		return 0, errors.New("no statement result")
	}
	return cur.result.RowsAffected()
}

// LastInsertID reports the generated key of the last Exec.
func (cur *Cursor) LastInsertID() (int64, error) {
	if cur.result == nil {
		return 0, errors.New("no statement result")
	}
	return cur.result.LastInsertId()
}

func (cur *Cursor) closeRows() {
	if cur.rows != nil {
		_ = cur.rows.Close()
		cur.rows = nil
	}
	if cur.release != nil {
		cur.release()
		cur.release = nil
	}
}

// Close releases the open result set. Closing twice is a no-op.
func (cur *Cursor) Close() error {
	if cur.closed {
		return nil
	}
	cur.closeRows()
	cur.closed = true
	return nil
}

package ygggo_orm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/yggai/ygggo_orm/dialect"
)

// Executor runs statements on connections borrowed from a ConnectionPool.
// Outside a transaction every call borrows a connection, runs in
// autocommit mode and returns it. Between BeginTransaction and
// CloseTransaction the context carries a session that pins one connection.
type Executor struct {
	pool    *ConnectionPool
	dialect dialect.Dialect
	logger  *slog.Logger
	retry   RetryPolicy

	showSQL       bool
	slowThreshold time.Duration

	tracing bool
	tracer  trace.Tracer
	metrics *Metrics
}

// NewExecutor builds an executor over pool. The executor owns the pool.
func NewExecutor(pool *ConnectionPool, cfg Config, opts ...Option) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("nil pool")
	}
	o := newOptions(opts)
	d := o.dialect
	if d == nil {
		var err error
		if d, err = dialect.Get(cfg.Driver); err != nil {
			d = dialect.NewMySQL()
		}
	}
	e := &Executor{
		pool:          pool,
		dialect:       d,
		logger:        o.logger,
		retry:         cfg.Retry,
		showSQL:       cfg.ShowSQL,
		slowThreshold: cfg.SlowQueryThreshold,
		tracing:       cfg.Telemetry.Tracing,
		tracer:        newTracer(o.tracerProvider),
	}
	if cfg.Telemetry.Metrics {
		e.metrics = newMetrics(o.meterProvider)
	}
	return e, nil
}

// Open creates the provider, pool and executor for cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider := cfg.Provider
	if provider == nil {
		dbp, err := OpenProvider(cfg)
		if err != nil {
			return nil, err
		}
		provider = dbp
	}
	pool, err := NewConnectionPool(ctx, provider, cfg.Pool, opts...)
	if err != nil {
		return nil, err
	}
	e, err := NewExecutor(pool, cfg, opts...)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return e, nil
}

// OpenEnv opens an executor configured from YGGGO_ORM_* variables.
func OpenEnv(ctx context.Context, opts ...Option) (*Executor, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg, opts...)
}

func (e *Executor) Pool() *ConnectionPool { return e.pool }

func (e *Executor) Dialect() dialect.Dialect { return e.dialect }

// Close closes the pool.
func (e *Executor) Close() error { return e.pool.Close() }

// Ping borrows a connection and pings the server.
func (e *Executor) Ping(ctx context.Context) error {
	if s := e.session(ctx); s != nil {
		return s.conn.Ping(ctx)
	}
	pc, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	err = pc.Ping(ctx)
	e.releaseConn(ctx, pc, err != nil)
	return err
}

func (e *Executor) acquire(ctx context.Context) (*PooledConnection, error) {
	pc, err := e.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	e.recordConnectionAcquired(ctx)
	return pc, nil
}

func (e *Executor) releaseConn(ctx context.Context, pc *PooledConnection, discard bool) {
	e.recordConnectionReleased(ctx, time.Since(pc.AcquiredAt()))
	if discard {
		_ = pc.Discard()
		return
	}
	_ = pc.Close()
}

func unsupported(op string, want dialect.Op, st dialect.Statement) error {
	return &Error{
		Code:    CodeUnsupportedOperation,
		Op:      op,
		Message: fmt.Sprintf("%s requires a %s statement, got %s", op, want, st.Op),
		Query:   st.SQL,
	}
}

// run executes fn with a cursor on the session connection, or on a
// connection borrowed for this call. A failing borrowed connection is
// discarded; a failing session is poisoned and discarded when closed.
func (e *Executor) run(ctx context.Context, op string, st dialect.Statement, want dialect.Op, logArgs any, fn func(context.Context, *PooledConnection, *Cursor) error) error {
	if st.Op != want {
		return unsupported(op, want, st)
	}
	ctx, span := e.startSpan(ctx, op, st.SQL)
	start := time.Now()

	err := e.withConn(ctx, func(pc *PooledConnection) error {
		cur, err := pc.Cursor()
		if err != nil {
			return err
		}
		defer cur.Close()
		return fn(ctx, pc, cur)
	})
	err = wrapStatementError(err, op, st.SQL, st.Args)

	duration := time.Since(start)
	e.logQuery(ctx, op, st.SQL, logArgs, duration, err)
	e.recordQuery(ctx, op, duration, err)
	e.finishSpan(span, err)
	return err
}

func (e *Executor) withConn(ctx context.Context, fn func(*PooledConnection) error) error {
	if s := e.session(ctx); s != nil {
		err := fn(s.conn)
		if err != nil {
			s.poison()
		}
		return err
	}
	pc, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(pc)
	e.releaseConn(ctx, pc, err != nil)
	return err
}

// Execute runs a non-DML statement (DDL, SET, ...).
func (e *Executor) Execute(ctx context.Context, st dialect.Statement) (bool, error) {
	err := e.run(ctx, "execute", st, dialect.OpExec, st.Args, func(ctx context.Context, _ *PooledConnection, cur *Cursor) error {
		_, err := cur.Exec(ctx, st.SQL, st.Args...)
		return err
	})
	return err == nil, err
}

var returningPattern = regexp.MustCompile(`(?i)\bRETURNING\b`)

// Insert runs a single-row insert and returns the generated key. Statements
// with a RETURNING clause yield the first returned column instead.
func (e *Executor) Insert(ctx context.Context, st dialect.Statement) (int64, error) {
	var id int64
	err := e.run(ctx, "insert", st, dialect.OpInsert, st.Args, func(ctx context.Context, _ *PooledConnection, cur *Cursor) error {
		if returningPattern.MatchString(st.SQL) {
			return scanReturning(ctx, cur, st, &id)
		}
		if _, err := cur.Exec(ctx, st.SQL, st.Args...); err != nil {
			return err
		}
		var err error
		id, err = cur.LastInsertID()
		return err
	})
	return id, err
}

func scanReturning(ctx context.Context, cur *Cursor, st dialect.Statement, id *int64) error {
	if err := cur.Query(ctx, st.SQL, st.Args...); err != nil {
		return err
	}
	rec, err := cur.FetchOne()
	if err != nil || rec == nil {
		return err
	}
	cols := cur.Columns()
	if len(cols) == 0 {
		return nil
	}
	switch v := rec[cols[0]].(type) {
	case int64:
		*id = v
	case int32:
		*id = int64(v)
	case int:
		*id = int64(v)
	default:
		return fmt.Errorf("returned key %v (%T) is not an integer", v, v)
	}
	return nil
}

// InsertBatch runs st once per argument row and returns the inserted row
// count. Outside a transaction the batch is applied atomically.
func (e *Executor) InsertBatch(ctx context.Context, st dialect.Statement, rows [][]any) (int64, error) {
	var n int64
	err := e.run(ctx, "insert_batch", st, dialect.OpInsert, batchArgs(rows), func(ctx context.Context, pc *PooledConnection, cur *Cursor) error {
		if len(rows) == 0 {
			return nil
		}
		if pc.InTransaction() {
			var err error
			n, err = cur.ExecBatch(ctx, st.SQL, rows)
			return err
		}
		if err := pc.Begin(ctx, nil); err != nil {
			return err
		}
		var err error
		if n, err = cur.ExecBatch(ctx, st.SQL, rows); err != nil {
			_ = pc.Rollback(ctx)
			n = 0
			return err
		}
		if err := pc.Commit(ctx); err != nil {
			n = 0
			return err
		}
		return nil
	})
	return n, err
}

// SelectFirst returns the first row, or an empty Record when there is none.
func (e *Executor) SelectFirst(ctx context.Context, st dialect.Statement) (Record, error) {
	rec := Record{}
	err := e.run(ctx, "select_first", st, dialect.OpSelect, st.Args, func(ctx context.Context, _ *PooledConnection, cur *Cursor) error {
		if err := cur.Query(ctx, st.SQL, st.Args...); err != nil {
			return err
		}
		first, err := cur.FetchOne()
		if err != nil {
			return err
		}
		if first != nil {
			rec = first
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Select returns every row in result set order; no rows is an empty slice.
func (e *Executor) Select(ctx context.Context, st dialect.Statement) ([]Record, error) {
	var out []Record
	err := e.run(ctx, "select", st, dialect.OpSelect, st.Args, func(ctx context.Context, _ *PooledConnection, cur *Cursor) error {
		if err := cur.Query(ctx, st.SQL, st.Args...); err != nil {
			return err
		}
		var err error
		out, err = cur.FetchAll()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update returns the number of affected rows.
func (e *Executor) Update(ctx context.Context, st dialect.Statement) (int64, error) {
	return e.affected(ctx, "update", st, dialect.OpUpdate)
}

// Delete returns the number of affected rows.
func (e *Executor) Delete(ctx context.Context, st dialect.Statement) (int64, error) {
	return e.affected(ctx, "delete", st, dialect.OpDelete)
}

func (e *Executor) affected(ctx context.Context, op string, st dialect.Statement, want dialect.Op) (int64, error) {
	var n int64
	err := e.run(ctx, op, st, want, st.Args, func(ctx context.Context, _ *PooledConnection, cur *Cursor) error {
		if _, err := cur.Exec(ctx, st.SQL, st.Args...); err != nil {
			return err
		}
		var err error
		n, err = cur.RowsAffected()
		return err
	})
	return n, err
}

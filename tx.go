package ygggo_orm

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sessionKey struct{ exec *Executor }

// session pins one pooled connection to a unit of work.
type session struct {
	id        string
	conn      *PooledConnection
	startedAt time.Time

	mu       sync.Mutex
	poisoned bool
	closed   bool
}

func (s *session) poison() {
	s.mu.Lock()
	s.poisoned = true
	s.mu.Unlock()
}

// session returns the open session ctx carries for e, if any.
func (e *Executor) session(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{e}).(*session)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s
}

// InTransaction reports whether ctx carries an open transaction session for e.
func (e *Executor) InTransaction(ctx context.Context) bool { return e.session(ctx) != nil }

// BeginTransaction pins a connection, starts a transaction on it and
// returns a context carrying the session. Pass that context to every call
// that belongs to the transaction, then finish with CloseTransaction.
// Beginning again on a context that already carries a session fails with
// ErrTransactionActive.
func (e *Executor) BeginTransaction(ctx context.Context) (context.Context, error) {
	return e.beginTx(ctx, nil)
}

func (e *Executor) beginTx(ctx context.Context, opts *sql.TxOptions) (context.Context, error) {
	if e.session(ctx) != nil {
		return ctx, &Error{Code: CodeTransactionActive, Op: "begin_transaction", Message: "nested transactions are not supported"}
	}
	start := time.Now()
	pc, err := e.acquire(ctx)
	if err != nil {
		return ctx, err
	}
	if err := pc.Begin(ctx, opts); err != nil {
		e.releaseConn(ctx, pc, true)
		err = wrapStatementError(err, "begin_transaction", "", nil)
		e.logTransaction(ctx, "begin", "", time.Since(start), err)
		return ctx, err
	}
	s := &session{id: uuid.NewString(), conn: pc, startedAt: start}
	e.logTransaction(ctx, "begin", s.id, time.Since(start), nil)
	return context.WithValue(ctx, sessionKey{e}, s), nil
}

// CommitTransaction commits the session's transaction. The connection stays
// pinned until CloseTransaction.
func (e *Executor) CommitTransaction(ctx context.Context) error {
	return e.endTx(ctx, "commit")
}

// RollbackTransaction rolls back the session's transaction. The connection
// stays pinned until CloseTransaction.
func (e *Executor) RollbackTransaction(ctx context.Context) error {
	return e.endTx(ctx, "rollback")
}

func (e *Executor) endTx(ctx context.Context, event string) error {
	s := e.session(ctx)
	if s == nil {
		return &Error{Code: CodeNoTransaction, Op: event + "_transaction", Message: "no transaction in context"}
	}
	start := time.Now()
	var err error
	if event == "commit" {
		err = s.conn.Commit(ctx)
	} else {
		err = s.conn.Rollback(ctx)
	}
	if err != nil {
		s.poison()
		err = wrapStatementError(err, event+"_transaction", "", nil)
	}
	e.logTransaction(ctx, event, s.id, time.Since(start), err)
	e.recordTransaction(ctx, event, time.Since(s.startedAt), err)
	return err
}

// CloseTransaction releases the session's connection, rolling back a
// transaction that was neither committed nor rolled back. A session that
// saw an error gives its connection up for closing. Closing an already
// closed session, or a context without one, is a no-op.
func (e *Executor) CloseTransaction(ctx context.Context) error {
	s, _ := ctx.Value(sessionKey{e}).(*session)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.conn.InTransaction() {
		if err = s.conn.Rollback(ctx); err != nil {
			s.poison()
			err = wrapStatementError(err, "close_transaction", "", nil)
		}
		e.recordTransaction(ctx, "abandon", time.Since(s.startedAt), err)
	}
	s.mu.Lock()
	poisoned := s.poisoned
	s.mu.Unlock()
	e.releaseConn(ctx, s.conn, poisoned)
	e.logTransaction(ctx, "close", s.id, time.Since(s.startedAt), err)
	return err
}

type txSettings struct {
	opts       *sql.TxOptions
	rollbackOn []error
	retry      *RetryPolicy
}

// TxOption tunes Executor.Transaction.
type TxOption func(*txSettings)

// WithTxOptions sets isolation level and read-only mode.
func WithTxOptions(opts *sql.TxOptions) TxOption {
	return func(s *txSettings) { s.opts = opts }
}

// RollbackOn restricts rollback to errors matching one of errs (errors.Is).
// Any other error commits the work done so far and is then returned.
// Without this option every error rolls back.
func RollbackOn(errs ...error) TxOption {
	return func(s *txSettings) { s.rollbackOn = append(s.rollbackOn, errs...) }
}

// WithTxRetry overrides the executor's retry policy for this transaction.
func WithTxRetry(p RetryPolicy) TxOption {
	return func(s *txSettings) { s.retry = &p }
}

func (s *txSettings) shouldRollback(err error) bool {
	if len(s.rollbackOn) == 0 {
		return true
	}
	for _, target := range s.rollbackOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Transaction runs fn inside a transaction and commits when it returns nil.
// If ctx already carries a transaction for e, fn joins it. Failures classified
// as retryable (deadlocks, lock timeouts, serialization failures) rerun the
// whole unit according to the retry policy.
func (e *Executor) Transaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if e.session(ctx) != nil {
		return fn(ctx)
	}
	settings := &txSettings{}
	for _, opt := range opts {
		opt(settings)
	}
	pol := e.retry
	if settings.retry != nil {
		pol = *settings.retry
	}
	return retryWithPolicy(ctx, pol, func() error {
		return e.transactionOnce(ctx, fn, settings)
	}, Classify)
}

func (e *Executor) transactionOnce(ctx context.Context, fn func(ctx context.Context) error, settings *txSettings) (err error) {
	txCtx, err := e.beginTx(ctx, settings.opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.CloseTransaction(txCtx); err == nil {
			err = cerr
		}
	}()

	if ferr := fn(txCtx); ferr != nil {
		if settings.shouldRollback(ferr) {
			_ = e.RollbackTransaction(txCtx)
			return ferr
		}
		if cerr := e.CommitTransaction(txCtx); cerr != nil {
			return cerr
		}
		return ferr
	}
	return e.CommitTransaction(txCtx)
}

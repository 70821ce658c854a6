package ygggo_orm

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// RecoveryPolicy runs after a commit or rollback failed. cause is the
// failure; whatever the policy does, the caller still receives cause.
type RecoveryPolicy func(ctx context.Context, c *Connection, cause error)

// ReconnectOnce replaces the raw handle with a fresh one. A failure to
// reconnect is swallowed; the connection is then left closed.
func ReconnectOnce(ctx context.Context, c *Connection, cause error) {
	if err := c.reconnect(ctx); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "reconnect after failure",
			slog.String("connection_id", c.id),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
	}
}

// NoRecovery leaves the connection as it is.
func NoRecovery(context.Context, *Connection, error) {}

// Connection normalizes a raw driver handle: explicit transactions,
// idempotent close, cancellation and reconnect.
type Connection struct {
	id        string
	provider  Provider
	recovery  RecoveryPolicy
	logger    *slog.Logger
	stmtCap   int
	createdAt time.Time
	usage     atomic.Int64

	mu     sync.Mutex
	handle Handle
	tx     *sql.Tx
	closed bool
	broken bool
	stmts  *stmtCache
	life   context.Context
	cancel context.CancelFunc
}

func newConnection(ctx context.Context, provider Provider, o *options, stmtCap int) (*Connection, error) {
	c := &Connection{
		id:        uuid.NewString(),
		provider:  provider,
		recovery:  o.recovery,
		logger:    o.logger,
		stmtCap:   stmtCap,
		createdAt: time.Now(),
	}
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// open attaches a fresh handle. Caller must not hold c.mu.
func (c *Connection) open(ctx context.Context) error {
	h, err := c.provider.Connect(ctx)
	if err != nil {
		return &Error{Code: CodeNotConnected, Op: "connect", Message: err.Error(), Cause: err}
	}
	stmts, err := newStmtCache(c.stmtCap)
	if err != nil {
		_ = h.Close()
		return err
	}
	life, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.handle, c.tx, c.stmts = h, nil, stmts
	c.closed, c.broken = false, false
	c.life, c.cancel = life, cancel
	c.mu.Unlock()
	return nil
}

func (c *Connection) ID() string { return c.id }

// Usage reports how many statements ran on this connection.
func (c *Connection) Usage() int64 { return c.usage.Load() }

func (c *Connection) CreatedAt() time.Time { return c.createdAt }

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IsBroken reports whether the connection was cancelled or lost and must
// not be reused.
func (c *Connection) IsBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

func (c *Connection) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

func (c *Connection) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

// Ping checks that the server is still reachable.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	h, closed := c.handle, c.closed
	c.mu.Unlock()
	if closed {
		return newError(CodeNotConnected, "ping", "connection is closed")
	}
	if err := h.PingContext(ctx); err != nil {
		c.markBroken()
		return &Error{Code: CodeNotConnected, Op: "ping", Message: err.Error(), Cause: err}
	}
	return nil
}

// IsConnected pings the server and reports the result.
func (c *Connection) IsConnected(ctx context.Context) bool { return c.Ping(ctx) == nil }

// Cursor returns a new cursor bound to this connection.
func (c *Connection) Cursor() (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, newError(CodeNotConnected, "cursor", "connection is closed")
	}
	return &Cursor{conn: c}, nil
}

// snapshot returns what statements should run against right now.
func (c *Connection) snapshot() (target, *stmtCache, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, nil, newError(CodeNotConnected, "execute", "connection is closed")
	}
	if c.tx != nil {
		return c.tx, nil, c.life, nil
	}
	return c.handle, c.stmts, c.life, nil
}

// Begin starts an explicit transaction. The transaction is bound to the
// connection's lifetime, not to ctx.
func (c *Connection) Begin(ctx context.Context, opts *sql.TxOptions) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return newError(CodeNotConnected, "begin", "connection is closed")
	}
	if c.tx != nil {
		c.mu.Unlock()
		return &Error{Code: CodeTransactionActive, Op: "begin", Message: "connection already has an open transaction"}
	}
	h, life := c.handle, c.life
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := h.BeginTx(life, opts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tx = tx
	c.mu.Unlock()
	return nil
}

func (c *Connection) takeTx() *sql.Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx := c.tx
	c.tx = nil
	return tx
}

// Commit commits the open transaction; without one it is a no-op. On
// failure the recovery policy runs and the original error is returned.
func (c *Connection) Commit(ctx context.Context) error {
	tx := c.takeTx()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		c.recover(ctx, err)
		return err
	}
	return nil
}

// Rollback rolls back the open transaction; without one it is a no-op. On
// failure the recovery policy runs and the original error is returned.
func (c *Connection) Rollback(ctx context.Context) error {
	tx := c.takeTx()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil {
		c.recover(ctx, err)
		return err
	}
	return nil
}

func (c *Connection) recover(ctx context.Context, cause error) {
	c.markBroken()
	if c.recovery != nil {
		c.recovery(ctx, c, cause)
	}
}

// reconnect drops the current handle and opens a new one.
func (c *Connection) reconnect(ctx context.Context) error {
	c.mu.Lock()
	old, stmts, cancel := c.handle, c.stmts, c.cancel
	c.tx = nil
	c.closed = true
	c.mu.Unlock()

	stmts.closeAll()
	if cancel != nil {
		cancel()
	}
	if old != nil {
		_ = old.Close()
	}
	return c.open(ctx)
}

// Reset prepares the connection for reuse by rolling back any open
// transaction. Rollback errors are returned so the caller can discard it.
func (c *Connection) Reset(ctx context.Context) error {
	tx := c.takeTx()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		c.markBroken()
		return err
	}
	return nil
}

// Cancel aborts statements in flight and abandons the open transaction.
// The connection is broken afterwards.
func (c *Connection) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.tx = nil
	c.broken = true
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close rolls back an open transaction and closes the raw handle.
// Closing a closed connection is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	h, tx, stmts, cancel := c.handle, c.tx, c.stmts, c.cancel
	c.tx = nil
	c.mu.Unlock()

	var result *multierror.Error
	if tx != nil {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			result = multierror.Append(result, err)
		}
	}
	stmts.closeAll()
	if h != nil {
		if err := h.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	return result.ErrorOrNil()
}

package ygggo_orm

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"
)

// BorrowLeak carries info about a long-held connection.
type BorrowLeak struct {
	ConnectionID string
	AcquiredAt   time.Time
	HeldFor      time.Duration
}

// PooledConnection is a Connection on loan from a ConnectionPool. Close
// hands it back instead of closing the socket; after that every method
// fails with ErrNotConnected.
type PooledConnection struct {
	conn       *Connection
	pool       *ConnectionPool
	active     atomic.Pointer[Connection]
	acquiredAt time.Time
	leakTimer  *time.Timer
}

func (pc *PooledConnection) get(op string) (*Connection, error) {
	c := pc.active.Load()
	if c == nil {
		return nil, newError(CodeNotConnected, op, "pooled connection already returned")
	}
	return c, nil
}

func (pc *PooledConnection) ID() string { return pc.conn.id }

// AcquiredAt is when the connection was taken from the pool.
func (pc *PooledConnection) AcquiredAt() time.Time { return pc.acquiredAt }

func (pc *PooledConnection) Cursor() (*Cursor, error) {
	c, err := pc.get("cursor")
	if err != nil {
		return nil, err
	}
	return c.Cursor()
}

func (pc *PooledConnection) Begin(ctx context.Context, opts *sql.TxOptions) error {
	c, err := pc.get("begin")
	if err != nil {
		return err
	}
	return c.Begin(ctx, opts)
}

func (pc *PooledConnection) Commit(ctx context.Context) error {
	c, err := pc.get("commit")
	if err != nil {
		return err
	}
	return c.Commit(ctx)
}

func (pc *PooledConnection) Rollback(ctx context.Context) error {
	c, err := pc.get("rollback")
	if err != nil {
		return err
	}
	return c.Rollback(ctx)
}

func (pc *PooledConnection) Ping(ctx context.Context) error {
	c, err := pc.get("ping")
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

func (pc *PooledConnection) InTransaction() bool {
	c := pc.active.Load()
	return c != nil && c.InTransaction()
}

// Cancel aborts in-flight work; the connection is discarded on return.
func (pc *PooledConnection) Cancel() {
	if c := pc.active.Load(); c != nil {
		c.Cancel()
	}
}

// Close returns the connection to its pool. Only the first call has an effect.
func (pc *PooledConnection) Close() error {
	pc.giveBack(false)
	return nil
}

// Discard returns the connection to its pool for closing; it never goes
// back to the idle list.
func (pc *PooledConnection) Discard() error {
	pc.giveBack(true)
	return nil
}

func (pc *PooledConnection) giveBack(discard bool) {
	c := pc.active.Swap(nil)
	if c == nil {
		return
	}
	if pc.leakTimer != nil {
		pc.leakTimer.Stop()
	}
	pc.pool.release(context.Background(), c, discard)
}

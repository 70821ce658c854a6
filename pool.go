package ygggo_orm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// PoolStats is a point-in-time view of a ConnectionPool.
type PoolStats struct {
	Open     int // connections open or being opened
	Idle     int
	InUse    int
	Waiting  int
	CoreSize int
	MaxSize  int

	Created      uint64
	Destroyed    uint64
	Acquired     uint64
	WaitAttempts uint64
	Exhausted    uint64
	Leaks        uint64
}

// ConnectionPool lends Connections to callers. It opens CoreSize
// connections up front, grows up to MaxSize on demand, and keeps at most
// CoreSize warm connections idle. Callers beyond MaxSize wait in FIFO order.
type ConnectionPool struct {
	provider Provider
	cfg      PoolConfig
	opts     *options
	logger   *slog.Logger

	mu      sync.Mutex
	idle    []*Connection
	inUse   map[*Connection]struct{}
	open    int
	waiters []chan struct{}
	closed  bool
	stats   PoolStats
}

// NewConnectionPool validates cfg and eagerly opens CoreSize connections.
// The pool owns provider: if it implements io.Closer it is closed with the pool.
func NewConnectionPool(ctx context.Context, provider Provider, cfg PoolConfig, opts ...Option) (*ConnectionPool, error) {
	if provider == nil {
		return nil, fmt.Errorf("nil provider")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	p := &ConnectionPool{
		provider: provider,
		cfg:      cfg,
		opts:     o,
		logger:   o.logger,
		inUse:    make(map[*Connection]struct{}),
	}
	for i := 0; i < cfg.CoreSize; i++ {
		c, err := p.newConnection(ctx)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.mu.Lock()
		p.idle = append(p.idle, c)
		p.open++
		p.mu.Unlock()
	}
	p.logPoolStats(ctx, "connection pool ready")
	return p, nil
}

func (p *ConnectionPool) newConnection(ctx context.Context) (*Connection, error) {
	c, err := newConnection(ctx, p.provider, p.opts, p.cfg.StmtCacheSize)
	if err != nil {
		p.logConnection(ctx, "open", "", err)
		return nil, err
	}
	p.mu.Lock()
	p.stats.Created++
	p.mu.Unlock()
	p.logConnection(ctx, "open", c.id, nil)
	return c, nil
}

// Config returns the effective pool configuration.
func (p *ConnectionPool) Config() PoolConfig { return p.cfg }

// Get returns a connection, waiting when MaxSize connections are in use.
// Every wake-up that does not yield a connection uses one of MaxWait
// attempts; when they are spent Get fails with ErrPoolExhausted.
func (p *ConnectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, newError(CodePoolClosed, "get", "connection pool is closed")
		}

		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.inUse[c] = struct{}{}
			p.mu.Unlock()
			if p.cfg.ValidateOnBorrow {
				if err := c.Ping(ctx); err != nil {
					p.logConnection(ctx, "validate", c.id, err)
					p.release(ctx, c, true)
					continue
				}
			}
			return p.lend(c), nil
		}

		if p.open < p.cfg.MaxSize {
			p.open++
			p.mu.Unlock()
			c, err := p.newConnection(ctx)
			p.mu.Lock()
			if err != nil {
				p.open--
				p.notifyOneLocked()
				p.mu.Unlock()
				return nil, err
			}
			if p.closed {
				p.open--
				p.mu.Unlock()
				_ = c.Close()
				return nil, newError(CodePoolClosed, "get", "connection pool is closed")
			}
			p.inUse[c] = struct{}{}
			p.mu.Unlock()
			return p.lend(c), nil
		}

		if attempts >= p.cfg.MaxWait {
			p.stats.Exhausted++
			p.mu.Unlock()
			return nil, &Error{
				Code:    CodePoolExhausted,
				Op:      "get",
				Message: fmt.Sprintf("no connection available after %d wait attempts (max size %d)", attempts, p.cfg.MaxSize),
			}
		}
		attempts++
		p.stats.WaitAttempts++
		ch := make(chan struct{}, 1)
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		if err := p.wait(ctx, ch); err != nil {
			return nil, err
		}
	}
}

// wait blocks until ch is signalled, the attempt times out, or ctx ends.
// Only ctx ending is an error; the other outcomes retry.
func (p *ConnectionPool) wait(ctx context.Context, ch chan struct{}) error {
	var timeout <-chan time.Time
	if p.cfg.WaitTimeout > 0 {
		t := time.NewTimer(p.cfg.WaitTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ch:
		return nil
	case <-timeout:
		p.abandonWait(ch)
		return nil
	case <-ctx.Done():
		p.abandonWait(ch)
		return ctx.Err()
	}
}

// abandonWait removes ch from the queue. If ch was already signalled the
// wake-up is handed to the next waiter so it is not lost.
func (p *ConnectionPool) abandonWait(ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
	select {
	case <-ch:
		p.notifyOneLocked()
	default:
	}
}

func (p *ConnectionPool) notifyOneLocked() {
	if len(p.waiters) == 0 {
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	ch <- struct{}{}
}

func (p *ConnectionPool) lend(c *Connection) *PooledConnection {
	p.mu.Lock()
	p.stats.Acquired++
	p.mu.Unlock()
	pc := &PooledConnection{conn: c, pool: p, acquiredAt: time.Now()}
	pc.active.Store(c)
	if p.cfg.BorrowWarnThreshold > 0 {
		pc.leakTimer = time.AfterFunc(p.cfg.BorrowWarnThreshold, func() { p.reportLeak(pc) })
	}
	return pc
}

// release takes a connection back. Discarded, broken or surplus
// connections are closed; the rest are reset and kept idle.
func (p *ConnectionPool) release(ctx context.Context, c *Connection, discard bool) {
	p.mu.Lock()
	delete(p.inUse, c)
	keep := !p.closed && !discard && len(p.idle) < p.cfg.CoreSize
	p.mu.Unlock()

	if keep && !c.IsBroken() && !c.IsClosed() {
		if err := c.Reset(ctx); err == nil {
			p.mu.Lock()
			if !p.closed && len(p.idle) < p.cfg.CoreSize {
				p.idle = append(p.idle, c)
				p.notifyOneLocked()
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
	}

	err := c.Close()
	p.mu.Lock()
	p.open--
	p.stats.Destroyed++
	p.notifyOneLocked()
	p.mu.Unlock()
	p.logConnection(ctx, "close", c.id, err)
}

func (p *ConnectionPool) reportLeak(pc *PooledConnection) {
	c := pc.active.Load()
	if c == nil {
		return
	}
	leak := BorrowLeak{ConnectionID: c.id, AcquiredAt: pc.acquiredAt, HeldFor: time.Since(pc.acquiredAt)}
	p.mu.Lock()
	p.stats.Leaks++
	p.mu.Unlock()
	p.logger.LogAttrs(context.Background(), slog.LevelWarn, "connection held beyond threshold",
		slog.String("connection_id", leak.ConnectionID),
		slog.Duration("held_for", leak.HeldFor),
	)
	if p.opts.leakHandler != nil {
		p.opts.leakHandler(leak)
	}
}

// Stats returns current pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Open = p.open
	s.Idle = len(p.idle)
	s.InUse = len(p.inUse)
	s.Waiting = len(p.waiters)
	s.CoreSize = p.cfg.CoreSize
	s.MaxSize = p.cfg.MaxSize
	return s
}

// Close closes idle and in-use connections and wakes every waiter, which
// then fail with ErrPoolClosed. Connections still checked out are closed
// underneath their holders. Closing twice is a no-op.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	busy := make([]*Connection, 0, len(p.inUse))
	for c := range p.inUse {
		busy = append(busy, c)
	}
	for _, ch := range p.waiters {
		ch <- struct{}{}
	}
	p.waiters = nil
	p.stats.Destroyed += uint64(len(idle))
	p.mu.Unlock()

	var result *multierror.Error
	for _, c := range idle {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, c := range busy {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if closer, ok := p.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "connection pool closed",
		slog.Int("idle_closed", len(idle)),
		slog.Int("in_use_closed", len(busy)),
	)
	return result.ErrorOrNil()
}

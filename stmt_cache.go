package ygggo_orm

import (
	"context"
	"database/sql"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// stmtCache implements a per-connection LRU cache of prepared statements.
// Evicted statements are closed.
type stmtCache struct {
	cache  *lru.Cache[string, *sql.Stmt]
	hits   atomic.Uint64
	misses atomic.Uint64
}

func newStmtCache(capacity int) (*stmtCache, error) {
	if capacity <= 0 {
		return nil, nil
	}
	c, err := lru.NewWithEvict[string, *sql.Stmt](capacity, func(_ string, st *sql.Stmt) {
		_ = st.Close()
	})
	if err != nil {
		return nil, err
	}
	return &stmtCache{cache: c}, nil
}

func (c *stmtCache) getOrPrepare(ctx context.Context, p preparer, query string) (*sql.Stmt, bool, error) {
	if c == nil {
		st, err := p.PrepareContext(ctx, query)
		return st, false, err
	}
	if st, ok := c.cache.Get(query); ok {
		c.hits.Add(1)
		return st, true, nil
	}
	st, err := p.PrepareContext(ctx, query)
	if err != nil {
		return nil, false, err
	}
	c.misses.Add(1)
	c.cache.Add(query, st)
	return st, false, nil
}

func (c *stmtCache) closeAll() {
	if c == nil {
		return
	}
	c.cache.Purge()
}

func (c *stmtCache) stats() (hits, misses uint64, size int) {
	if c == nil {
		return 0, 0, 0
	}
	return c.hits.Load(), c.misses.Load(), c.cache.Len()
}

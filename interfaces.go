package ygggo_orm

import (
	"context"
	"database/sql"
)

// Handle is a raw driver connection. *sql.Conn satisfies it.
type Handle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Provider opens raw connections for a pool. A provider that also
// implements io.Closer is closed together with the pool that owns it.
type Provider interface {
	Connect(ctx context.Context) (Handle, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Handle, error)

func (f ProviderFunc) Connect(ctx context.Context) (Handle, error) { return f(ctx) }

// target is what a Cursor runs statements against: the connection itself
// in autocommit mode, or its open transaction.
type target interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Ensure our concrete types implement the interfaces at compile time
var (
	_ Handle   = (*sql.Conn)(nil)
	_ target   = (*sql.Tx)(nil)
	_ Provider = (*DBProvider)(nil)
	_ Provider = ProviderFunc(nil)
)

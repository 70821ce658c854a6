package ygggo_orm

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/yggai/ygggo_orm/dialect"
)

// newSQLiteConfig returns a config for a fresh database file under t.TempDir.
func newSQLiteConfig(t *testing.T) Config {
	t.Helper()
	cfg := SQLiteConfig(filepath.Join(t.TempDir(), "test.db"))
	cfg.Pool = PoolConfig{CoreSize: 1, MaxSize: 4, MaxWait: 3}
	return cfg
}

// newSQLiteExecutor opens an executor over a temporary SQLite database and
// creates the users table used throughout the tests.
func newSQLiteExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	return openSQLite(t, newSQLiteConfig(t), opts...)
}

func openSQLite(t *testing.T, cfg Config, opts ...Option) *Executor {
	t.Helper()
	exec, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	_, err = exec.Execute(context.Background(), dialect.ExecStmt(
		"CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, age INTEGER)"))
	require.NoError(t, err)
	return exec
}

func countUsers(t *testing.T, exec *Executor) int64 {
	t.Helper()
	rec, err := exec.SelectFirst(context.Background(), dialect.Raw("SELECT COUNT(*) AS n FROM users"))
	require.NoError(t, err)
	n, err := toInt64(rec["n"])
	require.NoError(t, err)
	return n
}

// countingProvider wraps a provider and counts opened handles.
type countingProvider struct {
	Provider
	opened atomic.Int64
}

func (p *countingProvider) Connect(ctx context.Context) (Handle, error) {
	h, err := p.Provider.Connect(ctx)
	if err == nil {
		p.opened.Add(1)
	}
	return h, err
}

// sqliteProvider opens a DBProvider for a temporary SQLite database.
func sqliteProvider(t *testing.T) *DBProvider {
	t.Helper()
	dbp, err := OpenProvider(newSQLiteConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbp.Close() })
	return dbp
}

// newMockProvider returns a provider handing out connections of a sqlmock
// database. Handles are returned to the mock's own pool when closed, so
// expectations are shared by every pooled connection.
func newMockProvider(t *testing.T) (Provider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return ProviderFunc(func(ctx context.Context) (Handle, error) {
		return db.Conn(ctx)
	}), mock
}

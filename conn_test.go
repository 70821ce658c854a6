package ygggo_orm

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConnection(t *testing.T, opts ...Option) (*Connection, *countingProvider, sqlmock.Sqlmock) {
	t.Helper()
	inner, mock := newMockProvider(t)
	provider := &countingProvider{Provider: inner}
	c, err := newConnection(context.Background(), provider, newOptions(opts), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, provider, mock
}

func TestConnection_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	c, _, mock := newMockConnection(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, c.Begin(ctx, nil))
	assert.True(t, c.InTransaction())

	cur, err := c.Cursor()
	require.NoError(t, err)
	_, err = cur.Exec(ctx, "UPDATE users SET age = 1")
	require.NoError(t, err)
	require.NoError(t, cur.Close())

	require.NoError(t, c.Commit(ctx))
	assert.False(t, c.InTransaction())

	require.NoError(t, c.Begin(ctx, nil))
	require.NoError(t, c.Rollback(ctx))
	assert.False(t, c.InTransaction())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnection_CommitWithoutTransactionIsNoop(t *testing.T) {
	c, _, mock := newMockConnection(t)
	assert.NoError(t, c.Commit(context.Background()))
	assert.NoError(t, c.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnection_NestedBeginRejected(t *testing.T) {
	ctx := context.Background()
	c, _, mock := newMockConnection(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, c.Begin(ctx, nil))
	err := c.Begin(ctx, nil)
	assert.ErrorIs(t, err, ErrTransactionActive)
	require.NoError(t, c.Rollback(ctx))
}

func TestConnection_CommitFailureReconnects(t *testing.T) {
	ctx := context.Background()
	c, provider, mock := newMockConnection(t)

	commitErr := errors.New("connection lost during commit")
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(commitErr)

	require.NoError(t, c.Begin(ctx, nil))
	err := c.Commit(ctx)
	assert.ErrorIs(t, err, commitErr)

	assert.Equal(t, int64(2), provider.opened.Load(), "recovery should open a fresh handle")
	assert.False(t, c.InTransaction())
	assert.False(t, c.IsClosed())
	assert.False(t, c.IsBroken())
}

func TestConnection_RollbackFailureWithoutRecovery(t *testing.T) {
	ctx := context.Background()
	c, provider, mock := newMockConnection(t, WithRecoveryPolicy(NoRecovery))

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("rollback failed"))

	require.NoError(t, c.Begin(ctx, nil))
	require.Error(t, c.Rollback(ctx))

	assert.Equal(t, int64(1), provider.opened.Load())
	assert.True(t, c.IsBroken())
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	c, _, _ := newMockConnection(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	_, err := c.Cursor()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, c.Begin(context.Background(), nil), ErrNotConnected)
}

func TestConnection_CloseRollsBackOpenTransaction(t *testing.T) {
	ctx := context.Background()
	c, _, mock := newMockConnection(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, c.Begin(ctx, nil))
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnection_CancelBreaksConnection(t *testing.T) {
	c, _, _ := newMockConnection(t)
	c.Cancel()
	assert.True(t, c.IsBroken())
}

func TestCursor_FetchRows(t *testing.T) {
	ctx := context.Background()
	c, _, mock := newMockConnection(t)

	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, []byte("alice")).AddRow(2, []byte("bob")))
	mock.ExpectExec("INSERT INTO users").WithArgs("carol").WillReturnResult(sqlmock.NewResult(3, 1))

	cur, err := c.Cursor()
	require.NoError(t, err)
	defer cur.Close()

	require.NoError(t, cur.Query(ctx, "SELECT id, name FROM users"))
	assert.Equal(t, []string{"id", "name"}, cur.Columns())

	first, err := cur.FetchOne()
	require.NoError(t, err)
	assert.EqualValues(t, 1, first["id"])
	assert.Equal(t, "alice", first["name"])

	rest, err := cur.FetchAll()
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "bob", rest[0]["name"])

	next, err := cur.FetchOne()
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = cur.Exec(ctx, "INSERT INTO users (name) VALUES (?)", "carol")
	require.NoError(t, err)
	id, err := cur.LastInsertID()
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	n, err := cur.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, int64(2), c.Usage())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursor_ClosedCursorRejectsStatements(t *testing.T) {
	c, _, _ := newMockConnection(t)
	cur, err := c.Cursor()
	require.NoError(t, err)
	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())

	err = cur.Query(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

package ygggo_orm

import (
	"context"
	"errors"
	"testing"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yggai/ygggo_orm/dialect"
)

const insertUser = "INSERT INTO users (name) VALUES (?)"

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	assert.True(t, exec.InTransaction(txCtx))
	assert.False(t, exec.InTransaction(ctx))

	_, err = exec.Insert(txCtx, dialect.Raw(insertUser, "alice"))
	require.NoError(t, err)
	require.NoError(t, exec.RollbackTransaction(txCtx))
	require.NoError(t, exec.CloseTransaction(txCtx))

	assert.Equal(t, int64(0), countUsers(t, exec))
	assert.False(t, exec.InTransaction(txCtx))
}

func TestTransaction_CommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = exec.Insert(txCtx, dialect.Raw(insertUser, "alice"))
	require.NoError(t, err)

	// invisible to other connections until commit
	assert.Equal(t, int64(0), countUsers(t, exec))

	require.NoError(t, exec.CommitTransaction(txCtx))
	require.NoError(t, exec.CloseTransaction(txCtx))
	assert.Equal(t, int64(1), countUsers(t, exec))
}

func TestTransaction_SessionPinsOneConnection(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)
	acquired := exec.Pool().Stats().Acquired

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		_, err := exec.Insert(txCtx, dialect.Raw(insertUser, name))
		require.NoError(t, err)
	}
	rows, err := exec.Select(txCtx, dialect.Raw("SELECT name FROM users"))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 1, exec.Pool().Stats().InUse)

	require.NoError(t, exec.CommitTransaction(txCtx))
	require.NoError(t, exec.CloseTransaction(txCtx))
	assert.Equal(t, acquired+1, exec.Pool().Stats().Acquired)
	assert.Equal(t, 0, exec.Pool().Stats().InUse)
}

func TestTransaction_NestedBeginRejected(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	defer exec.CloseTransaction(txCtx)

	_, err = exec.BeginTransaction(txCtx)
	assert.ErrorIs(t, err, ErrTransactionActive)
	assert.True(t, exec.InTransaction(txCtx))
}

func TestTransaction_EndWithoutSession(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	assert.ErrorIs(t, exec.CommitTransaction(ctx), ErrNoTransaction)
	assert.ErrorIs(t, exec.RollbackTransaction(ctx), ErrNoTransaction)
	assert.NoError(t, exec.CloseTransaction(ctx))

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, exec.CloseTransaction(txCtx))
	require.NoError(t, exec.CloseTransaction(txCtx))
	assert.ErrorIs(t, exec.CommitTransaction(txCtx), ErrNoTransaction)
}

func TestTransaction_CloseRollsBackUnfinished(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = exec.Insert(txCtx, dialect.Raw(insertUser, "alice"))
	require.NoError(t, err)
	require.NoError(t, exec.CloseTransaction(txCtx))

	assert.Equal(t, int64(0), countUsers(t, exec))
	assert.Equal(t, 0, exec.Pool().Stats().InUse)
}

func TestTransaction_StatementErrorDiscardsConnection(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)
	destroyed := exec.Pool().Stats().Destroyed

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = exec.Select(txCtx, dialect.Raw("SELECT * FROM missing_table"))
	require.Error(t, err)
	require.NoError(t, exec.RollbackTransaction(txCtx))
	require.NoError(t, exec.CloseTransaction(txCtx))

	assert.Equal(t, destroyed+1, exec.Pool().Stats().Destroyed)
}

func TestTransaction_StatementsAfterCommitAutocommit(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, exec.CommitTransaction(txCtx))

	_, err = exec.Insert(txCtx, dialect.Raw(insertUser, "late"))
	require.NoError(t, err)
	require.NoError(t, exec.CloseTransaction(txCtx))

	assert.Equal(t, int64(1), countUsers(t, exec))
}

func TestTransaction_Helper(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	err := exec.Transaction(ctx, func(ctx context.Context) error {
		_, err := exec.Insert(ctx, dialect.Raw(insertUser, "committed"))
		return err
	})
	require.NoError(t, err)

	sentinel := errors.New("boom")
	err = exec.Transaction(ctx, func(ctx context.Context) error {
		if _, err := exec.Insert(ctx, dialect.Raw(insertUser, "rolled back")); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, int64(1), countUsers(t, exec))
}

func TestTransaction_RollbackOnFilter(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)
	errValidation := errors.New("validation failed")
	errNotify := errors.New("notification failed")

	err := exec.Transaction(ctx, func(ctx context.Context) error {
		if _, err := exec.Insert(ctx, dialect.Raw(insertUser, "kept")); err != nil {
			return err
		}
		return errNotify
	}, RollbackOn(errValidation))
	assert.ErrorIs(t, err, errNotify)
	assert.Equal(t, int64(1), countUsers(t, exec))

	err = exec.Transaction(ctx, func(ctx context.Context) error {
		if _, err := exec.Insert(ctx, dialect.Raw(insertUser, "dropped")); err != nil {
			return err
		}
		return errValidation
	}, RollbackOn(errValidation))
	assert.ErrorIs(t, err, errValidation)
	assert.Equal(t, int64(1), countUsers(t, exec))
}

func TestTransaction_RetriesDeadlock(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	attempts := 0
	err := exec.Transaction(ctx, func(ctx context.Context) error {
		attempts++
		if _, err := exec.Insert(ctx, dialect.Raw(insertUser, "retried")); err != nil {
			return err
		}
		if attempts == 1 {
			return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), countUsers(t, exec))
}

func TestTransaction_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	attempts := 0
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	err := exec.Transaction(ctx, func(ctx context.Context) error {
		attempts++
		return deadlock
	}, WithTxRetry(RetryPolicy{MaxAttempts: 2}))
	assert.ErrorIs(t, err, deadlock)
	assert.Equal(t, 2, attempts)
}

func TestTransaction_JoinsOpenSession(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	err = exec.Transaction(txCtx, func(ctx context.Context) error {
		_, err := exec.Insert(ctx, dialect.Raw(insertUser, "inner"))
		return err
	})
	require.NoError(t, err)
	assert.True(t, exec.InTransaction(txCtx))

	require.NoError(t, exec.RollbackTransaction(txCtx))
	require.NoError(t, exec.CloseTransaction(txCtx))
	assert.Equal(t, int64(0), countUsers(t, exec))
}

func TestTransaction_InsertBatchInsideSession(t *testing.T) {
	ctx := context.Background()
	exec := newSQLiteExecutor(t)

	txCtx, err := exec.BeginTransaction(ctx)
	require.NoError(t, err)
	n, err := exec.InsertBatch(txCtx, dialect.InsertStmt(insertUser), [][]any{{"a"}, {"b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, exec.RollbackTransaction(txCtx))
	require.NoError(t, exec.CloseTransaction(txCtx))

	assert.Equal(t, int64(0), countUsers(t, exec))
}

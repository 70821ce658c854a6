package ygggo_orm

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"

	"github.com/yggai/ygggo_orm/dialect"
)

// ErrorCode classifies failures raised by this package.
type ErrorCode string

const (
	CodePoolExhausted        ErrorCode = "POOL_EXHAUSTED"
	CodePoolClosed           ErrorCode = "POOL_CLOSED"
	CodeNotConnected         ErrorCode = "NOT_CONNECTED"
	CodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	CodeSQLBuild             ErrorCode = "SQL_BUILD"
	CodeTransactionActive    ErrorCode = "TRANSACTION_ACTIVE"
	CodeNoTransaction        ErrorCode = "NO_TRANSACTION"
	CodeDatabase             ErrorCode = "DATABASE"
)

// Sentinel errors for errors.Is checks.
var (
	ErrPoolExhausted        = errors.New("ygggo_orm: connection pool exhausted")
	ErrPoolClosed           = errors.New("ygggo_orm: connection pool closed")
	ErrNotConnected         = errors.New("ygggo_orm: connection is not connected")
	ErrUnsupportedOperation = errors.New("ygggo_orm: unsupported operation")
	ErrSQLBuild             = dialect.ErrSQLBuild
	ErrTransactionActive    = errors.New("ygggo_orm: transaction already active")
	ErrNoTransaction        = errors.New("ygggo_orm: no active transaction")
	ErrDatabase             = errors.New("ygggo_orm: database error")
)

// Error carries the failing operation and, for statement failures, the SQL
// text and arguments.
type Error struct {
	Code    ErrorCode
	Message string
	Op      string
	Query   string
	Args    []any
	// Number is the driver error number (MySQL) when known.
	Number int
	// SQLState is the SQLSTATE code (PostgreSQL) when known.
	SQLState string
	Cause    error
}

func (e *Error) Error() string {
	msg := "ygggo_orm: " + e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("ygggo_orm.%s: %s", e.Op, e.Message)
	}
	if e.Query != "" {
		msg += fmt.Sprintf(" (sql: %s)", e.Query)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is implements errors.Is for sentinel matching.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodePoolExhausted:
		return target == ErrPoolExhausted
	case CodePoolClosed:
		return target == ErrPoolClosed
	case CodeNotConnected:
		return target == ErrNotConnected
	case CodeUnsupportedOperation:
		return target == ErrUnsupportedOperation
	case CodeSQLBuild:
		return target == ErrSQLBuild
	case CodeTransactionActive:
		return target == ErrTransactionActive
	case CodeNoTransaction:
		return target == ErrNoTransaction
	case CodeDatabase:
		return target == ErrDatabase
	}
	return false
}

func newError(code ErrorCode, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// wrapStatementError tags a driver failure with the statement that caused
// it. Errors that are already *Error are returned unchanged.
func wrapStatementError(err error, op, query string, args []any) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, dialect.ErrSQLBuild) {
		return &Error{Code: CodeSQLBuild, Op: op, Message: err.Error(), Cause: err}
	}
	e := &Error{Code: CodeDatabase, Op: op, Message: err.Error(), Query: query, Args: args, Cause: err}
	if Classify(err) == ErrClassConnection {
		e.Code = CodeNotConnected
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		e.Number = int(me.Number)
		e.SQLState = string(me.SQLState[:])
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		e.SQLState = pe.Code
	}
	return e
}

// ErrorClass is a coarse classification of driver errors used for retry
// and connection-discard decisions.
type ErrorClass int

const (
	ErrClassUnknown ErrorClass = iota
	ErrClassRetryable
	ErrClassConflict
	ErrClassReadonly
	ErrClassConstraint
	ErrClassConnection
)

func (c ErrorClass) String() string {
	switch c {
	case ErrClassRetryable:
		return "retryable"
	case ErrClassConflict:
		return "conflict"
	case ErrClassReadonly:
		return "readonly"
	case ErrClassConstraint:
		return "constraint"
	case ErrClassConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Classify maps driver errors from MySQL, PostgreSQL and SQLite to an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrClassUnknown
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, ErrNotConnected) {
		return ErrClassConnection
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return classifyMySQL(me.Number)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return classifyPostgres(pe.Code)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return classifySQLite(se.Code())
	}
	return ErrClassUnknown
}

func classifyMySQL(n uint16) ErrorClass {
	switch n {
	case 1213, 1205: // deadlock, lock wait timeout
		return ErrClassRetryable
	case 1290, 1792: // read-only server, read-only transaction
		return ErrClassReadonly
	case 1062, 1022:
		return ErrClassConflict
	case 1048, 1451, 1452, 3819:
		return ErrClassConstraint
	case 1053, 1927, 2006, 2013: // shutdown, killed, gone away, lost
		return ErrClassConnection
	}
	return ErrClassUnknown
}

func classifyPostgres(code string) ErrorClass {
	switch {
	case code == "40001" || code == "40P01":
		return ErrClassRetryable
	case code == "25006":
		return ErrClassReadonly
	case code == "23505":
		return ErrClassConflict
	case strings.HasPrefix(code, "23"):
		return ErrClassConstraint
	case strings.HasPrefix(code, "08") || code == "57P01":
		return ErrClassConnection
	}
	return ErrClassUnknown
}

func classifySQLite(code int) ErrorClass {
	switch code {
	case 2067, 1555: // SQLITE_CONSTRAINT_UNIQUE, SQLITE_CONSTRAINT_PRIMARYKEY
		return ErrClassConflict
	}
	switch code & 0xff {
	case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
		return ErrClassRetryable
	case 8:
		return ErrClassReadonly
	case 19:
		return ErrClassConstraint
	}
	return ErrClassUnknown
}

func isRetryableClass(c ErrorClass) bool {
	return c == ErrClassRetryable || c == ErrClassReadonly
}

package ygggo_orm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	mysql "github.com/go-sql-driver/mysql"
)

// maxLoggedBatchRows caps how many argument rows of a batch are logged.
const maxLoggedBatchRows = 5

func durationMS(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1e6 }

// logQuery logs statement execution with structured fields
func (e *Executor) logQuery(ctx context.Context, operation, query string, args any, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("query", query),
		slog.Float64("duration_ms", durationMS(duration)),
	}
	if e.showSQL && args != nil {
		attrs = append(attrs, slog.Any("args", args))
	}

	if err != nil {
		attrs = append(attrs,
			slog.String("status", "error"),
			slog.String("error", err.Error()),
		)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) {
			attrs = append(attrs, slog.Int("error_code", int(mysqlErr.Number)))
		}
	} else {
		attrs = append(attrs, slog.String("status", "success"))
	}

	switch {
	case e.slowThreshold > 0 && duration > e.slowThreshold:
		e.logger.LogAttrs(ctx, slog.LevelWarn, "slow query detected", attrs...)
	case err != nil:
		e.logger.LogAttrs(ctx, slog.LevelError, "database query executed", attrs...)
	case e.showSQL:
		e.logger.LogAttrs(ctx, slog.LevelInfo, "database query executed", attrs...)
	default:
		e.logger.LogAttrs(ctx, slog.LevelDebug, "database query executed", attrs...)
	}
}

// batchArgs trims batch arguments for logging.
func batchArgs(rows [][]any) any {
	if len(rows) > maxLoggedBatchRows {
		return rows[:maxLoggedBatchRows]
	}
	return rows
}

// logTransaction logs database transaction events
func (e *Executor) logTransaction(ctx context.Context, event, session string, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("event", event),
		slog.String("session_id", session),
		slog.Float64("duration_ms", durationMS(duration)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("status", "error"),
			slog.String("error", err.Error()),
		)
		e.logger.LogAttrs(ctx, slog.LevelError, "database transaction event", attrs...)
		return
	}
	attrs = append(attrs, slog.String("status", "success"))
	e.logger.LogAttrs(ctx, slog.LevelDebug, "database transaction event", attrs...)
}

// logConnection logs pool lifecycle events
func (p *ConnectionPool) logConnection(ctx context.Context, event, connID string, err error) {
	attrs := []slog.Attr{
		slog.String("event", event),
		slog.String("connection_id", connID),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("status", "error"),
			slog.String("error", err.Error()),
		)
		p.logger.LogAttrs(ctx, slog.LevelError, "database connection event", attrs...)
		return
	}
	attrs = append(attrs, slog.String("status", "success"))
	p.logger.LogAttrs(ctx, slog.LevelDebug, "database connection event", attrs...)
}

// logPoolStats logs connection pool statistics
func (p *ConnectionPool) logPoolStats(ctx context.Context, msg string) {
	stats := p.Stats()
	p.logger.LogAttrs(ctx, slog.LevelDebug, msg,
		slog.Int("open_connections", stats.Open),
		slog.Int("idle_connections", stats.Idle),
		slog.Int("in_use_connections", stats.InUse),
		slog.Int("waiting", stats.Waiting),
		slog.Int("core_size", stats.CoreSize),
		slog.Int("max_size", stats.MaxSize),
	)
}

// Package ygggo_orm is a lightweight SQL execution layer for Go.
//
// # Overview
//
// ygggo_orm sits between application code and database/sql. It offers:
//   - A bounded connection pool with eager core connections and a wait budget
//   - Per-caller connection binding and explicit transactions carried in context
//   - SQL text generation for MySQL, PostgreSQL and SQLite (package dialect)
//   - A registry keeping one pool per connection target
//   - Structured logging, OpenTelemetry tracing and metrics, Prometheus pool stats
//
// # Quick Start
//
//	import orm "github.com/yggai/ygggo_orm"
//
//	cfg := orm.DefaultConfig()
//	cfg.Host = "localhost"
//	cfg.Username = "user"
//	cfg.Password = "password"
//	cfg.Database = "mydb"
//
//	ctx := context.Background()
//	exec, err := orm.Open(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer exec.Close()
//
//	id, err := exec.Insert(ctx, dialect.Raw("INSERT INTO users (name) VALUES (?)", "Alice"))
//	rows, err := exec.Select(ctx, dialect.Raw("SELECT id, name FROM users"))
//
// # Transactions
//
// BeginTransaction returns a context bound to one pooled connection. Every
// call made with that context runs on it until CloseTransaction:
//
//	txCtx, err := exec.BeginTransaction(ctx)
//	if err != nil {
//		return err
//	}
//	defer exec.CloseTransaction(txCtx)
//	if _, err := exec.Update(txCtx, dialect.Raw("UPDATE accounts SET balance = balance - ? WHERE id = ?", 100, from)); err != nil {
//		return err
//	}
//	return exec.CommitTransaction(txCtx)
//
// Transaction wraps the same steps and retries on deadlocks:
//
//	err = exec.Transaction(ctx, func(ctx context.Context) error {
//		_, err := exec.Update(ctx, stmt)
//		return err
//	})
//
// # Configuration
//
// Configuration may be built in code or loaded from environment variables
// prefixed with YGGGO_ORM_ (for example YGGGO_ORM_HOST), optionally read
// from a .env file first.
package ygggo_orm

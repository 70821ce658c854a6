package ygggo_orm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/XSAM/otelsql"
	mysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
)

// DBProvider hands out dedicated connections from a *sql.DB. The DB keeps
// no idle connections of its own, so closing a handle closes the socket
// and the ConnectionPool stays the only pool in play.
type DBProvider struct {
	db *sql.DB
}

// NewDBProvider wraps db. The provider owns db from now on.
func NewDBProvider(db *sql.DB) *DBProvider {
	db.SetMaxIdleConns(0)
	return &DBProvider{db: db}
}

func (p *DBProvider) Connect(ctx context.Context) (Handle, error) {
	return p.db.Conn(ctx)
}

// DB exposes the underlying handle.
func (p *DBProvider) DB() *sql.DB { return p.db }

func (p *DBProvider) Close() error { return p.db.Close() }

// OpenProvider opens a DBProvider for cfg. MySQL and PostgreSQL get their
// native connectors; any other driver name goes through sql.Open.
func OpenProvider(cfg Config) (*DBProvider, error) {
	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	var connector driver.Connector
	system := normalizeDriver(cfg.Driver)
	switch system {
	case "mysql":
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		if cfg.ConnectionTimeout > 0 && mc.Timeout == 0 {
			mc.Timeout = cfg.ConnectionTimeout
		}
		connector, err = mysql.NewConnector(mc)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
	case "pgx":
		pc, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.ConnectionTimeout > 0 && pc.ConnectTimeout == 0 {
			pc.ConnectTimeout = cfg.ConnectionTimeout
		}
		connector = stdlib.GetConnector(*pc)
		system = "postgresql"
	}

	var db *sql.DB
	switch {
	case connector != nil && cfg.Telemetry.Driver:
		db = otelsql.OpenDB(connector, otelsql.WithAttributes(attribute.String("db.system", system)))
	case connector != nil:
		db = sql.OpenDB(connector)
	case cfg.Telemetry.Driver:
		db, err = otelsql.Open(cfg.Driver, dsn, otelsql.WithAttributes(attribute.String("db.system", system)))
	default:
		db, err = sql.Open(cfg.Driver, dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	return NewDBProvider(db), nil
}

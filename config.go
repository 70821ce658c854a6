package ygggo_orm

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	// CoreSize connections are opened eagerly and kept warm when idle.
	CoreSize int `koanf:"core_size"`
	// MaxSize caps the number of simultaneously open connections.
	MaxSize int `koanf:"max_size"`
	// MaxWait is the number of wait attempts Get makes once MaxSize is
	// reached before failing with ErrPoolExhausted.
	MaxWait int `koanf:"max_wait"`
	// WaitTimeout bounds a single wait attempt. Zero waits until a
	// connection is released or the context ends.
	WaitTimeout time.Duration `koanf:"wait_timeout"`
	// ValidateOnBorrow pings idle connections before lending them.
	ValidateOnBorrow bool `koanf:"validate_on_borrow"`
	// BorrowWarnThreshold reports connections held longer than this.
	BorrowWarnThreshold time.Duration `koanf:"borrow_warn_threshold"`
	// StmtCacheSize enables a per-connection prepared statement cache.
	StmtCacheSize int `koanf:"stmt_cache_size"`
}

// TelemetryConfig switches OpenTelemetry instrumentation on.
type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
	Metrics bool `koanf:"metrics"`
	// Driver wraps the database/sql driver with otelsql.
	Driver bool `koanf:"driver"`
}

// Config describes one connection target.
type Config struct {
	// Driver selects the database/sql driver: "mysql", "pgx", "sqlite", or
	// any registered driver name (e.g. "sqlmock" in tests).
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
	// Field-based DSN building (used when DSN is empty)
	Host              string            `koanf:"host"`
	Port              int               `koanf:"port"`
	Username          string            `koanf:"username"`
	Password          string            `koanf:"password"`
	Database          string            `koanf:"database"`
	Charset           string            `koanf:"charset"`
	ConnectionTimeout time.Duration     `koanf:"connection_timeout"`
	Params            map[string]string `koanf:"params"`
	// ShowSQL logs every statement with its arguments.
	ShowSQL            bool            `koanf:"show_sql"`
	SlowQueryThreshold time.Duration   `koanf:"slow_query_threshold"`
	Pool               PoolConfig      `koanf:"pool"`
	Retry              RetryPolicy     `koanf:"retry"`
	Telemetry          TelemetryConfig `koanf:"telemetry"`

	// Provider overrides how raw connections are opened.
	Provider Provider `koanf:"-"`
}

// DefaultConfig returns a MySQL configuration for localhost.
func DefaultConfig() Config {
	return Config{
		Driver:            "mysql",
		Host:              "localhost",
		Port:              3306,
		Charset:           "utf8mb4",
		ConnectionTimeout: 10 * time.Second,
		Pool: PoolConfig{
			CoreSize: 2,
			MaxSize:  10,
			MaxWait:  3,
		},
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: 10 * time.Millisecond,
			MaxBackoff:  200 * time.Millisecond,
			Jitter:      true,
		},
	}
}

const defaultMaxSize = 10

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSize == 0 {
		c.MaxSize = defaultMaxSize
		if c.CoreSize > c.MaxSize {
			c.MaxSize = c.CoreSize
		}
	}
	return c
}

// Validate checks the pool bounds.
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxSize < 1:
		return fmt.Errorf("pool max size must be at least 1, got %d", c.MaxSize)
	case c.CoreSize < 0:
		return fmt.Errorf("pool core size cannot be negative, got %d", c.CoreSize)
	case c.CoreSize > c.MaxSize:
		return fmt.Errorf("pool core size (%d) cannot exceed max size (%d)", c.CoreSize, c.MaxSize)
	case c.MaxWait < 0:
		return fmt.Errorf("pool max wait cannot be negative, got %d", c.MaxWait)
	case c.StmtCacheSize < 0:
		return fmt.Errorf("statement cache size cannot be negative, got %d", c.StmtCacheSize)
	}
	return nil
}

// Validate checks that the configuration can open connections.
func (c Config) Validate() error {
	if c.Provider == nil && strings.TrimSpace(c.Driver) == "" {
		return fmt.Errorf("driver is required")
	}
	if c.Provider == nil && strings.TrimSpace(c.DSN) == "" && c.Host == "" && c.Database == "" {
		return fmt.Errorf("either dsn, host or database is required")
	}
	return c.Pool.withDefaults().Validate()
}

// Key identifies the connection target as host:port:database, with "None"
// standing in for an empty database. Configurations given only as a DSN
// are keyed by the address parsed from it; file databases by their DSN.
func (c Config) Key() string {
	host, port, db := c.Host, c.Port, c.Database
	if host == "" {
		dsn, _ := dsnFromConfig(c)
		switch normalizeDriver(c.Driver) {
		case "mysql":
			if mc, err := mysql.ParseDSN(dsn); err == nil {
				h, p, _ := net.SplitHostPort(mc.Addr)
				host, db = h, mc.DBName
				port, _ = strconv.Atoi(p)
			}
		case "pgx":
			if pc, err := pgconn.ParseConfig(dsn); err == nil {
				host, port, db = pc.Host, int(pc.Port), pc.Database
			}
		}
		if host == "" {
			return c.Driver + ":" + dsn
		}
	}
	if db == "" {
		db = "None"
	}
	return fmt.Sprintf("%s:%d:%s", host, port, db)
}

// String renders the configuration with the password masked.
func (c Config) String() string {
	dsn, _ := dsnFromConfig(c)
	if c.Password != "" {
		dsn = strings.ReplaceAll(dsn, c.Password, "****")
		dsn = strings.ReplaceAll(dsn, url.QueryEscape(c.Password), "****")
	}
	return fmt.Sprintf("%s(%s)", c.Driver, dsn)
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql", "mariadb":
		return "mysql"
	case "pgx", "postgres", "postgresql":
		return "pgx"
	case "sqlite", "sqlite3":
		return "sqlite"
	}
	return driver
}

// dsnFromConfig returns a DSN string.
// Priority: if Config.DSN is non-empty, return it unchanged.
// Otherwise build one for the configured driver from the fields.
func dsnFromConfig(c Config) (string, error) {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN, nil
	}
	switch normalizeDriver(c.Driver) {
	case "mysql":
		return mysqlDSN(c), nil
	case "pgx":
		return postgresDSN(c), nil
	case "sqlite":
		return sqliteDSN(c), nil
	}
	return "", fmt.Errorf("cannot build dsn for driver %q, set DSN explicitly", c.Driver)
}

func mysqlDSN(c Config) string {
	mc := mysql.NewConfig()
	mc.User = c.Username
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.Host
	if c.Port > 0 {
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	mc.DBName = c.Database
	mc.Timeout = c.ConnectionTimeout
	params := map[string]string{}
	if c.Charset != "" {
		params["charset"] = c.Charset
	}
	for k, v := range c.Params {
		switch k {
		case "parseTime":
			mc.ParseTime = v == "true" || v == "1"
		case "loc":
			if loc, err := time.LoadLocation(v); err == nil {
				mc.Loc = loc
			}
		default:
			params[k] = v
		}
	}
	if len(params) > 0 {
		mc.Params = params
	}
	return mc.FormatDSN()
}

func postgresDSN(c Config) string {
	u := url.URL{Scheme: "postgres", Host: c.Host, Path: "/" + c.Database}
	if c.Port > 0 {
		u.Host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	q := url.Values{}
	for k, v := range c.Params {
		q.Set(k, v)
	}
	if c.ConnectionTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectionTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func sqliteDSN(c Config) string {
	dsn := c.Database
	if len(c.Params) == 0 {
		return dsn
	}
	// stable order for test determinism
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c.Params[k])
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(parts, "&")
}

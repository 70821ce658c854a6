package ygggo_orm

import (
	"fmt"
	"time"
)

// SQLiteOptions tunes a SQLite database opened through modernc.org/sqlite.
type SQLiteOptions struct {
	BusyTimeout time.Duration
	JournalMode string // WAL, DELETE, TRUNCATE, PERSIST, MEMORY, OFF
	Synchronous string // FULL, NORMAL, OFF
	ForeignKeys bool
}

// DefaultSQLiteOptions returns settings suited to several pooled
// connections sharing one database file.
func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{
		BusyTimeout: 5 * time.Second,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		ForeignKeys: true,
	}
}

// SQLiteConfig returns a Config for the database file at path. Every pooled
// connection is a separate SQLite connection, so ":memory:" would give each
// one its own empty database; use a file path instead.
func SQLiteConfig(path string, opts ...SQLiteOptions) Config {
	o := DefaultSQLiteOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	cfg := DefaultConfig()
	cfg.Driver = "sqlite"
	cfg.Host, cfg.Port, cfg.Charset = "", 0, ""
	cfg.DSN = "file:" + path + sqlitePragmas(o)
	return cfg
}

func sqlitePragmas(o SQLiteOptions) string {
	var pragmas []string
	if o.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("busy_timeout(%d)", o.BusyTimeout.Milliseconds()))
	}
	if o.JournalMode != "" {
		pragmas = append(pragmas, "journal_mode("+o.JournalMode+")")
	}
	if o.Synchronous != "" {
		pragmas = append(pragmas, "synchronous("+o.Synchronous+")")
	}
	if o.ForeignKeys {
		pragmas = append(pragmas, "foreign_keys(1)")
	}
	out := ""
	for i, p := range pragmas {
		if i == 0 {
			out += "?"
		} else {
			out += "&"
		}
		out += "_pragma=" + p
	}
	return out
}

package kvsession

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores entries in an embedded SQLite file. Expiry is emulated
// through the expires_at column, so run a Janitor against it.
type SQLiteBackend struct {
	*sqlEntries
}

// SQLiteConfig holds configuration for the SQLite backend.
type SQLiteConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// sqlitePragmas are appended to the DSN unless the caller set them, so every
// pooled connection gets them.
var sqlitePragmas = []struct{ name, value string }{
	{"synchronous", "synchronous=NORMAL"},
	{"busy_timeout", "busy_timeout=5000"},
}

func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	// Readers run concurrently; writes go through writeMu.
	return NewSQLiteBackendWithConfig(SQLiteConfig{
		DSN:          dsn,
		MaxOpenConns: 16,
		MaxIdleConns: 16,
	})
}

func NewSQLiteBackendWithConfig(cfg SQLiteConfig) (*SQLiteBackend, error) {
	dsn := cfg.DSN
	for _, p := range sqlitePragmas {
		if !strings.Contains(dsn, p.name) {
			dsn = withPragma(dsn, p.value)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	poolSettings{
		maxOpen:     cfg.MaxOpenConns,
		maxIdle:     cfg.MaxIdleConns,
		maxLifetime: cfg.ConnMaxLifetime,
	}.apply(db)

	// journal_mode is stored in the database file itself.
	err = initSchema(db,
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS kv_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			skey TEXT NOT NULL UNIQUE,
			value TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries(expires_at)",
	)
	if err != nil {
		return nil, err
	}

	entries, err := newSQLEntries(db, sqlQueries{
		upsert: `INSERT INTO kv_entries (skey, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(skey) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		get:     "SELECT value FROM kv_entries WHERE skey = ? AND expires_at > ?",
		del:     "DELETE FROM kv_entries WHERE skey = ? AND expires_at > ?",
		exists:  "SELECT 1 FROM kv_entries WHERE skey = ? AND expires_at > ?",
		expire:  "UPDATE kv_entries SET expires_at = ? WHERE skey = ? AND expires_at > ?",
		scan:    "SELECT id, skey FROM kv_entries WHERE id > ? AND expires_at > ? ORDER BY id LIMIT ?",
		cleanup: "DELETE FROM kv_entries WHERE expires_at <= ?",
	}, true)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{sqlEntries: entries}, nil
}

// withPragma adds a _pragma query parameter understood by modernc.org/sqlite.
func withPragma(dsn, pragma string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + pragma
}

package kvsession

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLBackend stores entries in a PostgreSQL table with the same expiry
// emulation as SQLiteBackend.
type PostgreSQLBackend struct {
	*sqlEntries
}

// PostgreSQLConfig holds configuration for the PostgreSQL backend.
type PostgreSQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewPostgreSQLBackend connects with default pool settings.
func NewPostgreSQLBackend(dsn string) (*PostgreSQLBackend, error) {
	return NewPostgreSQLBackendWithConfig(PostgreSQLConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
}

// NewPostgreSQLBackendWithConfig connects, creates the kv_entries table if
// needed and prepares every statement up front.
func NewPostgreSQLBackendWithConfig(cfg PostgreSQLConfig) (*PostgreSQLBackend, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgresql database: %w", err)
	}
	poolSettings{
		maxOpen:     cfg.MaxOpenConns,
		maxIdle:     cfg.MaxIdleConns,
		maxLifetime: cfg.ConnMaxLifetime,
		maxIdleTime: cfg.ConnMaxIdleTime,
	}.apply(db)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgresql database: %w", err)
	}

	err = initSchema(db,
		`CREATE TABLE IF NOT EXISTS kv_entries (
			id BIGSERIAL PRIMARY KEY,
			skey TEXT NOT NULL UNIQUE,
			value TEXT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries(expires_at)",
	)
	if err != nil {
		return nil, err
	}

	entries, err := newSQLEntries(db, sqlQueries{
		upsert: `INSERT INTO kv_entries (skey, value, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (skey) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		get:     "SELECT value FROM kv_entries WHERE skey = $1 AND expires_at > $2",
		del:     "DELETE FROM kv_entries WHERE skey = $1 AND expires_at > $2",
		exists:  "SELECT 1 FROM kv_entries WHERE skey = $1 AND expires_at > $2",
		expire:  "UPDATE kv_entries SET expires_at = $1 WHERE skey = $2 AND expires_at > $3",
		scan:    "SELECT id, skey FROM kv_entries WHERE id > $1 AND expires_at > $2 ORDER BY id LIMIT $3",
		cleanup: "DELETE FROM kv_entries WHERE expires_at <= $1",
	}, false)
	if err != nil {
		return nil, err
	}
	return &PostgreSQLBackend{sqlEntries: entries}, nil
}

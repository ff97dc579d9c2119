package kvsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// sqlQueries holds the dialect-specific statements of a SQL-emulated store.
// Expiry is kept as Unix milliseconds so comparisons never depend on how a
// driver serializes timestamps.
type sqlQueries struct {
	upsert  string
	get     string
	del     string
	exists  string
	expire  string
	scan    string
	cleanup string
}

// sqlEntries implements Backend over a database/sql table. Rows past their
// expiry are invisible to every read and are removed by Sweep.
type sqlEntries struct {
	db *sql.DB
	// writeMu serializes writes when the engine needs it (SQLite).
	writeMu *sync.Mutex

	upsertStmt  *sql.Stmt
	getStmt     *sql.Stmt
	delStmt     *sql.Stmt
	existsStmt  *sql.Stmt
	expireStmt  *sql.Stmt
	scanStmt    *sql.Stmt
	cleanupStmt *sql.Stmt

	now func() time.Time
}

// poolSettings sizes a database/sql pool. Zero fields keep the driver
// defaults.
type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

func (p poolSettings) apply(db *sql.DB) {
	if p.maxOpen > 0 {
		db.SetMaxOpenConns(p.maxOpen)
	}
	if p.maxIdle > 0 {
		db.SetMaxIdleConns(p.maxIdle)
	}
	if p.maxLifetime > 0 {
		db.SetConnMaxLifetime(p.maxLifetime)
	}
	if p.maxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.maxIdleTime)
	}
}

// initSchema runs each statement in order and closes db on the first
// failure.
func initSchema(db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("failed to initialize kv_entries schema: %w", err)
		}
	}
	return nil
}

func newSQLEntries(db *sql.DB, q sqlQueries, serializeWrites bool) (*sqlEntries, error) {
	e := &sqlEntries{db: db, now: time.Now}
	if serializeWrites {
		e.writeMu = &sync.Mutex{}
	}

	stmts := []struct {
		dst   **sql.Stmt
		query string
		name  string
	}{
		{&e.upsertStmt, q.upsert, "upsert"},
		{&e.getStmt, q.get, "get"},
		{&e.delStmt, q.del, "delete"},
		{&e.existsStmt, q.exists, "exists"},
		{&e.expireStmt, q.expire, "expire"},
		{&e.scanStmt, q.scan, "scan"},
		{&e.cleanupStmt, q.cleanup, "cleanup"},
	}
	for _, s := range stmts {
		stmt, err := db.Prepare(s.query)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to prepare %s statement: %w", s.name, err)
		}
		*s.dst = stmt
	}
	return e, nil
}

func (e *sqlEntries) lock() func() {
	if e.writeMu == nil {
		return func() {}
	}
	e.writeMu.Lock()
	return e.writeMu.Unlock
}

func (e *sqlEntries) nowMillis() int64 {
	return e.now().UnixMilli()
}

func (e *sqlEntries) Connect(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *sqlEntries) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := e.getStmt.QueryRowContext(ctx, key, e.nowMillis()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query entry: %w", err)
	}
	return value, true, nil
}

func (e *sqlEntries) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	expiresAt := e.now().Add(ttl).UnixMilli()

	unlock := e.lock()
	defer unlock()
	if _, err := e.upsertStmt.ExecContext(ctx, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

func (e *sqlEntries) Del(ctx context.Context, key string) (int64, error) {
	unlock := e.lock()
	defer unlock()
	res, err := e.delStmt.ExecContext(ctx, key, e.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to delete entry: %w", err)
	}
	return res.RowsAffected()
}

func (e *sqlEntries) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := e.existsStmt.QueryRowContext(ctx, key, e.nowMillis()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query entry: %w", err)
	}
	return true, nil
}

func (e *sqlEntries) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := e.now()

	unlock := e.lock()
	defer unlock()
	res, err := e.expireStmt.ExecContext(ctx, now.Add(ttl).UnixMilli(), key, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to refresh entry expiry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scan walks live rows in id order. The cursor is the last id examined, so a
// page can come back empty while the walk is still in progress.
func (e *sqlEntries) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	if count <= 0 {
		count = 10
	}
	rows, err := e.scanStmt.QueryContext(ctx, int64(cursor), e.nowMillis(), count)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan entries: %w", err)
	}
	defer rows.Close()

	var (
		keys   []string
		lastID int64
		seen   int64
	)
	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, 0, fmt.Errorf("failed to read scanned entry: %w", err)
		}
		lastID = id
		seen++
		if matchGlob(match, key) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate entries: %w", err)
	}

	if seen < count {
		return keys, 0, nil
	}
	return keys, uint64(lastID), nil
}

func (e *sqlEntries) Sweep(ctx context.Context) (int64, error) {
	unlock := e.lock()
	defer unlock()
	res, err := e.cleanupStmt.ExecContext(ctx, e.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired entries: %w", err)
	}
	return res.RowsAffected()
}

func (e *sqlEntries) Close() error {
	for _, stmt := range []*sql.Stmt{
		e.upsertStmt, e.getStmt, e.delStmt, e.existsStmt,
		e.expireStmt, e.scanStmt, e.cleanupStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return e.db.Close()
}

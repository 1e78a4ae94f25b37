package cacher

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteCacher keeps JSON encoded values in a SQLite table. Rows whose
// expiry has passed are treated as missing and removed lazily.
type SQLiteCacher[T any] struct {
	db    *sql.DB
	path  string
	group singleflight.Group
	now   func() time.Time
}

// NewSQLiteCacher opens or creates the database at path and its cache table.
func NewSQLiteCacher[T any](path string) (*SQLiteCacher[T], error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cacher: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cacher: open database %s: %w", path, err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cacher: enable WAL: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cacher: create schema: %w", err)
	}

	return &SQLiteCacher[T]{
		db:   db,
		path: path,
		now:  time.Now,
	}, nil
}

// Path returns the database file.
func (c *SQLiteCacher[T]) Path() string {
	return c.path
}

func (c *SQLiteCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var (
		zero    T
		data    []byte
		expires int64
	)

	err := c.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("cacher: select %s: %w", key, err)
	}

	if expires != 0 && c.now().UnixNano() >= expires {
		if err := c.Delete(ctx, key); err != nil {
			return zero, false, err
		}
		return zero, false, nil
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, false, fmt.Errorf("cacher: unmarshal cached value: %w", err)
	}

	return result, true, nil
}

func (c *SQLiteCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cacher: marshal value: %w", err)
	}

	var expires int64
	if ttl > 0 {
		expires = c.now().Add(ttl).UnixNano()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, data, expires,
	)
	if err != nil {
		return fmt.Errorf("cacher: upsert %s: %w", key, err)
	}

	return nil
}

func (c *SQLiteCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	return fetchThrough[T](ctx, &c.group, c, key, ttl, fetchFn)
}

func (c *SQLiteCacher[T]) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("cacher: delete %s: %w", key, err)
	}
	return nil
}

func (c *SQLiteCacher[T]) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("cacher: clear: %w", err)
	}
	return nil
}

// ItemCount counts rows that have not expired.
func (c *SQLiteCacher[T]) ItemCount(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_entries WHERE expires_at = 0 OR expires_at > ?",
		c.now().UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cacher: count: %w", err)
	}

	return n, nil
}

func (c *SQLiteCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?",
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return 0, fmt.Errorf("cacher: delete prefix %q: %w", prefix, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cacher: delete prefix %q: %w", prefix, err)
	}

	return int(n), nil
}

func (c *SQLiteCacher[T]) Close() error {
	return c.db.Close()
}

var _ Cacher[string] = (*SQLiteCacher[string])(nil)

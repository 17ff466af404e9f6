// Package sqlite provides an embedded SQLite unit cache for single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// UnitCache is a novel.UnitCache persisted in a local SQLite file.
type UnitCache struct {
	db   *sql.DB
	path string
}

// Open creates (or reuses) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*UnitCache, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	schema := `
CREATE TABLE IF NOT EXISTS unit_cache (
	work_id    TEXT NOT NULL,
	unit_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	markup     TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (work_id, unit_id)
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &UnitCache{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (c *UnitCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the database file location.
func (c *UnitCache) Path() string {
	return c.path
}

// Get returns the cached entry or novel.ErrCacheMiss.
func (c *UnitCache) Get(ctx context.Context, workID, unitID string) (novel.CacheEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT work_id, unit_id, title, markup, text, updated_at FROM unit_cache WHERE work_id = ? AND unit_id = ?`,
		workID, unitID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return novel.CacheEntry{}, novel.ErrCacheMiss
	}
	if err != nil {
		return novel.CacheEntry{}, fmt.Errorf("get cached unit: %w", err)
	}
	return e, nil
}

// Put upserts an entry; the last write wins.
func (c *UnitCache) Put(ctx context.Context, entry novel.CacheEntry) error {
	err := retryOnBusy(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `
INSERT INTO unit_cache (work_id, unit_id, title, markup, text, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (work_id, unit_id) DO UPDATE
SET title = excluded.title, markup = excluded.markup, text = excluded.text, updated_at = excluded.updated_at`,
			entry.WorkID, entry.UnitID, entry.Title, entry.Markup, entry.Text, entry.UpdatedAt.UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert cached unit: %w", err)
	}
	return nil
}

// Exists reports whether the unit is cached without loading its content.
func (c *UnitCache) Exists(ctx context.Context, workID, unitID string) (bool, error) {
	var exists int
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM unit_cache WHERE work_id = ? AND unit_id = ?)`,
		workID, unitID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check cached unit: %w", err)
	}
	return exists == 1, nil
}

// GetAllForWork returns every cached unit of a work ordered by unit id.
func (c *UnitCache) GetAllForWork(ctx context.Context, workID string) ([]novel.CacheEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT work_id, unit_id, title, markup, text, updated_at FROM unit_cache WHERE work_id = ? ORDER BY unit_id`,
		workID)
	if err != nil {
		return nil, fmt.Errorf("list cached units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []novel.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cached unit: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached units: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (novel.CacheEntry, error) {
	var (
		e       novel.CacheEntry
		updated int64
	)
	if err := s.Scan(&e.WorkID, &e.UnitID, &e.Title, &e.Markup, &e.Text, &updated); err != nil {
		return novel.CacheEntry{}, err
	}
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return e, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool connects a pgx pool using cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the job and unit cache tables when missing.
func Migrate(ctx context.Context, pool Pool, jobsTable, cacheTable string) error {
	for _, table := range []string{jobsTable, cacheTable} {
		if !validTableName.MatchString(table) {
			return fmt.Errorf("invalid table name %q", table)
		}
	}
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	platform             TEXT NOT NULL,
	work_id              TEXT NOT NULL,
	format               TEXT NOT NULL,
	status               TEXT NOT NULL,
	completed            INTEGER NOT NULL DEFAULT 0,
	total                INTEGER NOT NULL DEFAULT 0,
	title                TEXT NOT NULL DEFAULT '',
	artifact_path        TEXT NOT NULL DEFAULT '',
	artifact_sink_uri    TEXT NOT NULL DEFAULT '',
	artifact_size        BIGINT NOT NULL DEFAULT 0,
	artifact_sha256      TEXT NOT NULL DEFAULT '',
	artifact_duration_ms BIGINT NOT NULL DEFAULT 0,
	error_text           TEXT NOT NULL DEFAULT '',
	submitted_at         TIMESTAMPTZ NOT NULL,
	started_at           TIMESTAMPTZ,
	finished_at          TIMESTAMPTZ
)`, jobsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_tuple_idx ON %[1]s (user_id, platform, work_id, format, submitted_at DESC)`, jobsTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	work_id    TEXT NOT NULL,
	unit_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	markup     TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (work_id, unit_id)
)`, cacheTable),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func tableOrDefault(table, fallback string) (string, error) {
	if table == "" {
		table = fallback
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

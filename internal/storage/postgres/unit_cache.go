package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

// UnitCache is a novel.UnitCache shared by every process pointed at the same database.
type UnitCache struct {
	pool  Pool
	table string
}

// NewUnitCache wraps an existing pool. table defaults to "unit_cache".
func NewUnitCache(pool Pool, table string) (*UnitCache, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, "unit_cache")
	if err != nil {
		return nil, err
	}
	return &UnitCache{pool: pool, table: table}, nil
}

// Get returns the cached entry or novel.ErrCacheMiss.
func (c *UnitCache) Get(ctx context.Context, workID, unitID string) (novel.CacheEntry, error) {
	query := fmt.Sprintf(`SELECT work_id, unit_id, title, markup, text, updated_at FROM %s
WHERE work_id = $1 AND unit_id = $2`, c.table)
	var e novel.CacheEntry
	err := c.pool.QueryRow(ctx, query, workID, unitID).Scan(&e.WorkID, &e.UnitID, &e.Title, &e.Markup, &e.Text, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return novel.CacheEntry{}, novel.ErrCacheMiss
	}
	if err != nil {
		return novel.CacheEntry{}, fmt.Errorf("get cached unit: %w", err)
	}
	return e, nil
}

// Put upserts an entry; the last write wins.
func (c *UnitCache) Put(ctx context.Context, entry novel.CacheEntry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (work_id, unit_id, title, markup, text, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (work_id, unit_id) DO UPDATE
SET title = EXCLUDED.title, markup = EXCLUDED.markup, text = EXCLUDED.text, updated_at = EXCLUDED.updated_at`, c.table)
	_, err := c.pool.Exec(ctx, query, entry.WorkID, entry.UnitID, entry.Title, entry.Markup, entry.Text, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cached unit: %w", err)
	}
	return nil
}

// Exists reports whether the unit is cached without loading its content.
func (c *UnitCache) Exists(ctx context.Context, workID, unitID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE work_id = $1 AND unit_id = $2)`, c.table)
	var exists bool
	if err := c.pool.QueryRow(ctx, query, workID, unitID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check cached unit: %w", err)
	}
	return exists, nil
}

// GetAllForWork returns every cached unit of a work ordered by unit id.
func (c *UnitCache) GetAllForWork(ctx context.Context, workID string) ([]novel.CacheEntry, error) {
	query := fmt.Sprintf(`SELECT work_id, unit_id, title, markup, text, updated_at FROM %s
WHERE work_id = $1 ORDER BY unit_id`, c.table)
	rows, err := c.pool.Query(ctx, query, workID)
	if err != nil {
		return nil, fmt.Errorf("list cached units: %w", err)
	}
	defer rows.Close()

	var out []novel.CacheEntry
	for rows.Next() {
		var e novel.CacheEntry
		if err := rows.Scan(&e.WorkID, &e.UnitID, &e.Title, &e.Markup, &e.Text, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cached unit: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached units: %w", err)
	}
	return out, nil
}

package items

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists items in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads an item by code (case-insensitive).
func (r *Repository) Get(ctx context.Context, code string) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `SELECT item_code, item_name, uom, tracking_mode, active, created_at, updated_at
FROM item_master WHERE lower(item_code) = lower($1)`, code).
		Scan(&it.Code, &it.Name, &it.UOM, &it.Tracking, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// List returns items matching the filter, ordered by name.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	query := `SELECT item_code, item_name, uom, tracking_mode, active, created_at, updated_at FROM item_master WHERE 1=1`
	args := []any{}
	argCount := 0

	if filter.Search != "" {
		argCount++
		query += ` AND (item_code ILIKE $` + strconv.Itoa(argCount) + ` OR item_name ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Active != nil {
		argCount++
		query += ` AND active = $` + strconv.Itoa(argCount)
		args = append(args, *filter.Active)
	}
	query += ` ORDER BY item_name ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	if filter.Offset > 0 {
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Code, &it.Name, &it.UOM, &it.Tracking, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, it)
	}
	return list, rows.Err()
}

// Upsert creates or updates an item keyed by code.
func (r *Repository) Upsert(ctx context.Context, it Item) (Item, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `INSERT INTO item_master (item_code, item_name, uom, tracking_mode, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (item_code) DO UPDATE SET item_name=EXCLUDED.item_name, uom=EXCLUDED.uom, tracking_mode=EXCLUDED.tracking_mode, active=EXCLUDED.active, updated_at=EXCLUDED.updated_at
RETURNING item_code, item_name, uom, tracking_mode, active, created_at, updated_at`,
		it.Code, it.Name, it.UOM, string(it.Tracking), it.Active, now).
		Scan(&it.Code, &it.Name, &it.UOM, &it.Tracking, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

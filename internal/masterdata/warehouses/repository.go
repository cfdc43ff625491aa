package warehouses

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists warehouses in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a warehouse by code.
func (r *Repository) Get(ctx context.Context, code string) (Warehouse, error) {
	var wh Warehouse
	err := r.pool.QueryRow(ctx, `SELECT code, name, created_at FROM warehouses WHERE code = $1`, code).
		Scan(&wh.Code, &wh.Name, &wh.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrWarehouseNotFound
		}
		return Warehouse{}, err
	}
	return wh, nil
}

// List returns all warehouses ordered by code.
func (r *Repository) List(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name, created_at FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Warehouse
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.Code, &wh.Name, &wh.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, wh)
	}
	return list, rows.Err()
}

// Upsert creates or renames a warehouse.
func (r *Repository) Upsert(ctx context.Context, wh Warehouse) (Warehouse, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (code, name, created_at) VALUES ($1,$2,$3)
ON CONFLICT (code) DO UPDATE SET name=EXCLUDED.name
RETURNING code, name, created_at`, wh.Code, wh.Name, now).
		Scan(&wh.Code, &wh.Name, &wh.CreatedAt)
	if err != nil {
		return Warehouse{}, err
	}
	return wh, nil
}

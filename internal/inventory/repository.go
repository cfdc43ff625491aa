package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktrail/stocktrail/internal/platform/db"
)

// Repository persists balances and the movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the engine performs while
// posting movements. Balance rows are locked per key, so deltas on the same
// key serialise while independent keys proceed concurrently.
type TxRepository interface {
	// GetBalanceForUpdate locks and returns the balance row for the key.
	// Absence means zero: a zero-quantity Balance is returned, never an error.
	GetBalanceForUpdate(ctx context.Context, item, warehouse, batch, serial string) (Balance, error)
	// ApplyDelta upserts the balance row, adding delta to the current
	// quantity, and returns the resulting quantity.
	ApplyDelta(ctx context.Context, item, warehouse, batch, serial string, delta float64) (float64, error)
	// InsertMovement appends one record to the ledger.
	InsertMovement(ctx context.Context, m Movement) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// TxRepositoryFor binds the transactional operations to an existing
// transaction, letting session finalise/confirm share one commit with the
// movements they post.
func (r *Repository) TxRepositoryFor(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// ListBalances returns balances matching the filter, for display and audit.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	query := `SELECT item_code, warehouse_code, batch, serial, qty, updated_at FROM inventory_balances WHERE 1=1`
	args := []any{}
	argCount := 0
	if filter.ItemCode != "" {
		argCount++
		query += ` AND item_code = $` + strconv.Itoa(argCount)
		args = append(args, filter.ItemCode)
	}
	if filter.WarehouseCode != "" {
		argCount++
		query += ` AND warehouse_code = $` + strconv.Itoa(argCount)
		args = append(args, filter.WarehouseCode)
	}
	query += ` ORDER BY item_code, warehouse_code, batch, serial`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemCode, &b.WarehouseCode, &b.Batch, &b.Serial, &b.Qty, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListMovements returns ledger records, most recent first.
func (r *Repository) ListMovements(ctx context.Context, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, type, item_code, item_name, qty, uom,
COALESCE(warehouse_from,''), COALESCE(warehouse_to,''), batch, serial,
COALESCE(reference,''), COALESCE(note,''), user_id, overdraft, created_at
FROM movements ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Type, &m.ItemCode, &m.ItemName, &m.Qty, &m.UOM,
			&m.WarehouseFrom, &m.WarehouseTo, &m.Batch, &m.Serial,
			&m.Reference, &m.Note, &m.ActorID, &m.Overdraft, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// WarehouseBalances returns every balance row of one warehouse. Count session
// finalise uses it to reconcile scanned totals against the full warehouse.
func (r *Repository) WarehouseBalances(ctx context.Context, tx pgx.Tx, warehouse string) ([]Balance, error) {
	rows, err := tx.Query(ctx, `SELECT item_code, warehouse_code, batch, serial, qty, updated_at
FROM inventory_balances WHERE warehouse_code = $1`, warehouse)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemCode, &b.WarehouseCode, &b.Batch, &b.Serial, &b.Qty, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, item, warehouse, batch, serial string) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT item_code, warehouse_code, batch, serial, qty, updated_at
FROM inventory_balances
WHERE item_code=$1 AND warehouse_code=$2 AND batch=$3 AND serial=$4
FOR UPDATE`, item, warehouse, batch, serial).
		Scan(&bal.ItemCode, &bal.WarehouseCode, &bal.Batch, &bal.Serial, &bal.Qty, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ItemCode: item, WarehouseCode: warehouse, Batch: batch, Serial: serial}, nil
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) ApplyDelta(ctx context.Context, item, warehouse, batch, serial string, delta float64) (float64, error) {
	var qty float64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_balances (item_code, warehouse_code, batch, serial, qty, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (item_code, warehouse_code, batch, serial)
DO UPDATE SET qty = inventory_balances.qty + EXCLUDED.qty, updated_at = NOW()
RETURNING qty`, item, warehouse, batch, serial, delta).Scan(&qty)
	return qty, err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO movements (id, type, item_code, item_name, qty, uom, warehouse_from, warehouse_to, batch, serial, reference, note, user_id, overdraft, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		m.ID, string(m.Type), m.ItemCode, m.ItemName, m.Qty, m.UOM,
		nullString(m.WarehouseFrom), nullString(m.WarehouseTo), m.Batch, m.Serial,
		nullString(m.Reference), nullString(m.Note), m.ActorID, m.Overdraft, m.CreatedAt)
	return err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

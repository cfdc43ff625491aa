package counting

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/platform/db"
)

// Repository persists count sessions and their scan entries.
type Repository struct {
	pool      *pgxpool.Pool
	inventory *inventory.Repository
}

// NewRepository constructs Repository. The inventory repository supplies the
// transactional movement operations used during finalise.
func NewRepository(pool *pgxpool.Pool, inv *inventory.Repository) *Repository {
	return &Repository{pool: pool, inventory: inv}
}

// Insert stores a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO count_sessions (id, warehouse_code, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.WarehouseCode, s.Status, s.Note, s.CreatedBy, s.CreatedAt)
	return err
}

// Get returns one session.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx, `SELECT id, warehouse_code, status, COALESCE(note,''), created_by, created_at, closed_at
FROM count_sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.WarehouseCode, &s.Status, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// List returns recent sessions, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, warehouse_code, status, COALESCE(note,''), created_by, created_at, closed_at
FROM count_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.WarehouseCode, &s.Status, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.ClosedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// InsertEntry appends a scan entry, but only while the session is open. The
// status check and the insert are one statement, so a concurrent finalise
// cannot slip between them.
func (r *Repository) InsertEntry(ctx context.Context, e Entry) error {
	tag, err := r.pool.Exec(ctx, `INSERT INTO count_entries (session_id, item_code, batch, serial, qty, scanned_by, created_at)
SELECT $1,$2,$3,$4,$5,$6,$7
WHERE EXISTS (SELECT 1 FROM count_sessions WHERE id = $1 AND status = 'open')`,
		e.SessionID, e.ItemCode, e.Batch, e.Serial, e.Qty, e.ScannedBy, e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, e.SessionID); err != nil {
			return err
		}
		return ErrSessionClosed
	}
	return nil
}

// ListEntries returns the raw scans of a session in scan order.
func (r *Repository) ListEntries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, item_code, batch, serial, qty, scanned_by, created_at
FROM count_entries WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ItemCode, &e.Batch, &e.Serial, &e.Qty, &e.ScannedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FinalizeTx exposes the operations available while finalising a session.
// Everything runs on one transaction, so the close, the reconciliation reads
// and the posted adjustments commit or roll back together.
type FinalizeTx interface {
	// Lock locks and returns the session row.
	Lock(ctx context.Context) (Session, error)
	// Totals sums the scan entries per balance key.
	Totals(ctx context.Context) ([]EntryTotal, error)
	// WarehouseBalances returns every balance row of the warehouse.
	WarehouseBalances(ctx context.Context, warehouse string) ([]inventory.Balance, error)
	// Close marks the session closed.
	Close(ctx context.Context, at time.Time) error
	// Movements returns the movement operations bound to this transaction.
	Movements() inventory.TxRepository
}

// Finalize runs fn inside a repeatable-read transaction scoped to session id.
func (r *Repository) Finalize(ctx context.Context, id string, fn func(context.Context, FinalizeTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &finalizeTx{tx: tx, sessionID: id, inventory: r.inventory})
	})
}

type finalizeTx struct {
	tx        pgx.Tx
	sessionID string
	inventory *inventory.Repository
}

func (f *finalizeTx) Lock(ctx context.Context) (Session, error) {
	var s Session
	err := f.tx.QueryRow(ctx, `SELECT id, warehouse_code, status, COALESCE(note,''), created_by, created_at, closed_at
FROM count_sessions WHERE id = $1 FOR UPDATE`, f.sessionID).
		Scan(&s.ID, &s.WarehouseCode, &s.Status, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (f *finalizeTx) Totals(ctx context.Context) ([]EntryTotal, error) {
	rows, err := f.tx.Query(ctx, `SELECT item_code, batch, serial, SUM(qty)
FROM count_entries WHERE session_id = $1
GROUP BY item_code, batch, serial`, f.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []EntryTotal{}
	for rows.Next() {
		var t EntryTotal
		if err := rows.Scan(&t.ItemCode, &t.Batch, &t.Serial, &t.Qty); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (f *finalizeTx) WarehouseBalances(ctx context.Context, warehouse string) ([]inventory.Balance, error) {
	return f.inventory.WarehouseBalances(ctx, f.tx, warehouse)
}

func (f *finalizeTx) Close(ctx context.Context, at time.Time) error {
	tag, err := f.tx.Exec(ctx, `UPDATE count_sessions SET status = 'closed', closed_at = $2
WHERE id = $1 AND status = 'open'`, f.sessionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionClosed
	}
	return nil
}

func (f *finalizeTx) Movements() inventory.TxRepository {
	return f.inventory.TxRepositoryFor(f.tx)
}

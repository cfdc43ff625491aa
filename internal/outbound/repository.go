package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/platform/db"
)

// Repository persists outbound sessions and their scan entries.
type Repository struct {
	pool      *pgxpool.Pool
	inventory *inventory.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, inv *inventory.Repository) *Repository {
	return &Repository{pool: pool, inventory: inv}
}

// Insert stores a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO outbound_sessions (id, type, warehouse_from, warehouse_to, status, reference, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.Type, s.WarehouseFrom, nullString(s.WarehouseTo), s.Status, s.Reference, s.Note, s.CreatedBy, s.CreatedAt)
	return err
}

// Get returns one session.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx, `SELECT id, type, warehouse_from, COALESCE(warehouse_to,''), status, COALESCE(reference,''), COALESCE(note,''), created_by, created_at, closed_at
FROM outbound_sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.Type, &s.WarehouseFrom, &s.WarehouseTo, &s.Status, &s.Reference, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.ClosedAt)
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
	rows, err := r.pool.Query(ctx, `SELECT id, type, warehouse_from, COALESCE(warehouse_to,''), status, COALESCE(reference,''), COALESCE(note,''), created_by, created_at, closed_at
FROM outbound_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Type, &s.WarehouseFrom, &s.WarehouseTo, &s.Status, &s.Reference, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.ClosedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// InsertEntry appends a pick scan while the session is open. Status check and
// insert are one statement so a concurrent confirm cannot race it.
func (r *Repository) InsertEntry(ctx context.Context, e Entry) error {
	tag, err := r.pool.Exec(ctx, `INSERT INTO outbound_entries (session_id, item_code, batch, serial, qty, scanned_by, created_at)
SELECT $1,$2,$3,$4,$5,$6,$7
WHERE EXISTS (SELECT 1 FROM outbound_sessions WHERE id = $1 AND status = 'open')`,
		e.SessionID, e.ItemCode, e.Batch, e.Serial, e.Qty, e.ScannedBy, e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, e.SessionID); err != nil {
			return err
		}
		return ErrSessionNotOpen
	}
	return nil
}

// ListEntries returns the raw scans of a session in scan order.
func (r *Repository) ListEntries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, item_code, batch, serial, qty, scanned_by, created_at
FROM outbound_entries WHERE session_id = $1 ORDER BY id`, sessionID)
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

// Cancel closes an open session without posting anything.
func (r *Repository) Cancel(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE outbound_sessions SET status = 'cancelled', closed_at = $2
WHERE id = $1 AND status = 'open'`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrSessionNotOpen
	}
	return nil
}

// ConfirmTx exposes the operations available while confirming a session. All
// of it runs on one transaction; a failing movement rolls the status change
// back and the session stays open.
type ConfirmTx interface {
	// Lock locks and returns the session row.
	Lock(ctx context.Context) (Session, error)
	// Lines sums the scan entries into one line per balance key.
	Lines(ctx context.Context) ([]Line, error)
	// Close marks the session confirmed.
	Close(ctx context.Context, at time.Time) error
	// Movements returns the movement operations bound to this transaction.
	Movements() inventory.TxRepository
}

// Confirm runs fn inside a repeatable-read transaction scoped to session id.
func (r *Repository) Confirm(ctx context.Context, id string, fn func(context.Context, ConfirmTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &confirmTx{tx: tx, sessionID: id, inventory: r.inventory})
	})
}

type confirmTx struct {
	tx        pgx.Tx
	sessionID string
	inventory *inventory.Repository
}

func (c *confirmTx) Lock(ctx context.Context) (Session, error) {
	var s Session
	err := c.tx.QueryRow(ctx, `SELECT id, type, warehouse_from, COALESCE(warehouse_to,''), status, COALESCE(reference,''), COALESCE(note,''), created_by, created_at, closed_at
FROM outbound_sessions WHERE id = $1 FOR UPDATE`, c.sessionID).
		Scan(&s.ID, &s.Type, &s.WarehouseFrom, &s.WarehouseTo, &s.Status, &s.Reference, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (c *confirmTx) Lines(ctx context.Context) ([]Line, error) {
	rows, err := c.tx.Query(ctx, `SELECT item_code, batch, serial, SUM(qty)
FROM outbound_entries WHERE session_id = $1
GROUP BY item_code, batch, serial
ORDER BY item_code, batch, serial`, c.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ItemCode, &l.Batch, &l.Serial, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (c *confirmTx) Close(ctx context.Context, at time.Time) error {
	tag, err := c.tx.Exec(ctx, `UPDATE outbound_sessions SET status = 'confirmed', closed_at = $2
WHERE id = $1 AND status = 'open'`, c.sessionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotOpen
	}
	return nil
}

func (c *confirmTx) Movements() inventory.TxRepository {
	return c.inventory.TxRepositoryFor(c.tx)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

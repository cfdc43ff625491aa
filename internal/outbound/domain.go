// Package outbound implements scan-driven picking sessions. Scans accumulate
// picked quantities; confirming aggregates them into one line per balance key
// and posts the issue or transfer movements atomically with the status change.
package outbound

import (
	"errors"
	"time"

	"github.com/stocktrail/stocktrail/internal/inventory"
)

// Session types. A session issues stock (OUTBOUND) or moves it between
// warehouses (TRANSFER).
const (
	TypeOutbound = "OUTBOUND"
	TypeTransfer = "TRANSFER"
)

// Session statuses.
const (
	StatusOpen      = "open"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Session is one picking session.
type Session struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	WarehouseFrom string     `json:"warehouse_from"`
	WarehouseTo   string     `json:"warehouse_to,omitempty"`
	Status        string     `json:"status"`
	Reference     string     `json:"reference,omitempty"`
	Note          string     `json:"note,omitempty"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// Entry is one raw pick scan.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ItemCode  string    `json:"item_code"`
	Batch     string    `json:"batch,omitempty"`
	Serial    string    `json:"serial,omitempty"`
	Qty       float64   `json:"qty"`
	ScannedBy string    `json:"scanned_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Line is one aggregated pick: the summed quantity per balance key. Each line
// becomes exactly one movement at confirm time.
type Line struct {
	ItemCode string  `json:"item_code"`
	Batch    string  `json:"batch,omitempty"`
	Serial   string  `json:"serial,omitempty"`
	Qty      float64 `json:"qty"`
}

// ConfirmResult reports what confirming posted.
type ConfirmResult struct {
	Session   Session              `json:"session"`
	Lines     []Line               `json:"lines"`
	Movements []inventory.Movement `json:"movements"`
}

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("outbound: session not found")
	// ErrSessionNotOpen indicates the session was already confirmed or
	// cancelled.
	ErrSessionNotOpen = errors.New("outbound: session not open")
	// ErrUnknownType indicates a session type other than OUTBOUND or TRANSFER.
	ErrUnknownType = errors.New("outbound: unknown session type")
	// ErrInvalidQuantity indicates a non-positive picked quantity.
	ErrInvalidQuantity = errors.New("outbound: picked quantity must be positive")
)

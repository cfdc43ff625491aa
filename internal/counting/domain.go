// Package counting implements scan-driven stock count sessions. A session
// collects raw scan entries against one warehouse; finalising reconciles the
// scanned totals against every balance of that warehouse and optionally posts
// the correcting adjustments in the same transaction that closes the session.
package counting

import (
	"errors"
	"time"

	"github.com/stocktrail/stocktrail/internal/inventory"
)

// Session statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Session is one stock count of one warehouse.
type Session struct {
	ID            string     `json:"id"`
	WarehouseCode string     `json:"warehouse_code"`
	Status        string     `json:"status"`
	Note          string     `json:"note,omitempty"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// Entry is one raw scan. Entries are append-only; the same key scanned twice
// yields two entries whose quantities sum at finalise time.
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

// EntryTotal is the summed counted quantity per balance key.
type EntryTotal struct {
	ItemCode string  `json:"item_code"`
	Batch    string  `json:"batch"`
	Serial   string  `json:"serial"`
	Qty      float64 `json:"qty"`
}

// Adjustment is one reconciliation line: the difference between what was
// counted and what the system believed, for one balance key.
type Adjustment struct {
	ItemCode   string  `json:"item_code"`
	Batch      string  `json:"batch,omitempty"`
	Serial     string  `json:"serial,omitempty"`
	SystemQty  float64 `json:"system_qty"`
	CountedQty float64 `json:"counted_qty"`
	Delta      float64 `json:"delta"`
}

// FinalizeResult reports what finalising produced.
type FinalizeResult struct {
	Session     Session              `json:"session"`
	Adjustments []Adjustment         `json:"adjustments"`
	Applied     bool                 `json:"applied"`
	Movements   []inventory.Movement `json:"movements,omitempty"`
}

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("counting: session not found")
	// ErrSessionClosed indicates the session no longer accepts scans or a
	// second finalise.
	ErrSessionClosed = errors.New("counting: session already closed")
	// ErrInvalidQuantity indicates a negative counted quantity.
	ErrInvalidQuantity = errors.New("counting: counted quantity must be zero or positive")
)

package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementInbound receives stock into a destination warehouse.
	MovementInbound MovementType = "INBOUND"
	// MovementOutbound issues stock from a source warehouse.
	MovementOutbound MovementType = "OUTBOUND"
	// MovementTransfer moves stock between two warehouses.
	MovementTransfer MovementType = "TRANSFER"
	// MovementReturn books returned stock into a destination warehouse.
	MovementReturn MovementType = "RETURN"
	// MovementAdjust applies a signed correction, typically from cycle counts.
	MovementAdjust MovementType = "ADJUST"
)

// Valid reports whether the type is one of the known movement types.
func (t MovementType) Valid() bool {
	switch t {
	case MovementInbound, MovementOutbound, MovementTransfer, MovementReturn, MovementAdjust:
		return true
	}
	return false
}

// Movement is an immutable ledger record. Corrections are new movements,
// never edits. ItemName is snapshotted from the item master at write time so
// the audit trail survives later renames.
type Movement struct {
	ID            string       `json:"id"`
	Type          MovementType `json:"type"`
	ItemCode      string       `json:"item_code"`
	ItemName      string       `json:"item_name"`
	Qty           float64      `json:"qty"`
	UOM           string       `json:"uom"`
	WarehouseFrom string       `json:"warehouse_from,omitempty"`
	WarehouseTo   string       `json:"warehouse_to,omitempty"`
	Batch         string       `json:"batch,omitempty"`
	Serial        string       `json:"serial,omitempty"`
	Reference     string       `json:"reference,omitempty"`
	Note          string       `json:"note,omitempty"`
	ActorID       string       `json:"user_id"`
	Overdraft     bool         `json:"overdraft,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// MovementInput describes a movement request before validation.
type MovementInput struct {
	Type          MovementType
	ItemCode      string
	Qty           float64
	UOM           string
	WarehouseFrom string
	WarehouseTo   string
	Batch         string
	Serial        string
	Reference     string
	Note          string
	ActorID       string
}

// Balance is the on-hand quantity for an (item, warehouse, batch, serial)
// key. Batch and serial are normalised to the empty string when absent so at
// most one row exists per key. A zero or negative quantity is a valid,
// persisted state.
type Balance struct {
	ItemCode      string    `json:"item_code"`
	WarehouseCode string    `json:"warehouse_code"`
	Batch         string    `json:"batch"`
	Serial        string    `json:"serial"`
	Qty           float64   `json:"qty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BalanceFilter narrows balance listings.
type BalanceFilter struct {
	ItemCode      string
	WarehouseCode string
}

// qtyEpsilon guards float comparisons on quantities (NUMERIC(18,3) upstream).
const qtyEpsilon = 1e-9

var (
	// ErrUnknownMovementType indicates an unsupported movement type.
	ErrUnknownMovementType = errors.New("inventory: unknown movement type")
	// ErrInvalidQuantity indicates a quantity that violates the per-type rule.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInsufficientStock is returned when a movement would overdraw a
	// balance and overdraft is not permitted by configuration.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrItemNotFound indicates the item master has no such code.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrWarehouseNotFound indicates an unknown warehouse code.
	ErrWarehouseNotFound = errors.New("inventory: warehouse not found")
	// ErrBatchRequired is returned for batch-tracked items without a batch.
	ErrBatchRequired = errors.New("inventory: batch required for batch-tracked item")
	// ErrSerialRequired is returned for serial-tracked items without a serial.
	ErrSerialRequired = errors.New("inventory: serial required for serial-tracked item")
	// ErrActorRequired is returned when no acting user accompanies a mutation.
	ErrActorRequired = errors.New("inventory: acting user required")
	// ErrWarehouseRequired indicates a warehouse mandated by the movement
	// type was not supplied.
	ErrWarehouseRequired = errors.New("inventory: required warehouse missing")
	// ErrSameWarehouse rejects transfers whose legs point at one warehouse.
	ErrSameWarehouse = errors.New("inventory: source and destination warehouse must differ")
)

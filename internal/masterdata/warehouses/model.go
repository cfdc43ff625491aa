package warehouses

import (
	"errors"
	"time"
)

// Warehouse is static reference data identified by a unique code.
type Warehouse struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrWarehouseNotFound indicates an unknown warehouse code.
var ErrWarehouseNotFound = errors.New("warehouse not found")

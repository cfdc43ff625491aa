package items

import (
	"errors"
	"time"
)

// TrackingMode dictates which identifiers are mandatory on movements of an item.
type TrackingMode string

const (
	// TrackingNone requires neither batch nor serial.
	TrackingNone TrackingMode = "NONE"
	// TrackingBatch requires a batch identifier on every movement.
	TrackingBatch TrackingMode = "BATCH"
	// TrackingSerial requires a serial identifier on every movement.
	TrackingSerial TrackingMode = "SERIAL"
)

// Valid reports whether the tracking mode is one of the known values.
func (m TrackingMode) Valid() bool {
	switch m {
	case TrackingNone, TrackingBatch, TrackingSerial:
		return true
	}
	return false
}

// Item is a master-data record referenced, never mutated, by the movement core.
type Item struct {
	Code      string       `json:"item_code"`
	Name      string       `json:"item_name"`
	UOM       string       `json:"uom"`
	Tracking  TrackingMode `json:"tracking_mode"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ListFilter narrows item listings.
type ListFilter struct {
	Search string
	Active *bool
	Limit  int
	Offset int
}

// ErrItemNotFound indicates an unknown item code.
var ErrItemNotFound = errors.New("item not found")

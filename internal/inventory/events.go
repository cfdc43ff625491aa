package inventory

import (
	"context"
	"time"
)

// MovementPostedEvent is published after a movement committed. Downstream
// consumers (export jobs, metrics) receive it best-effort; delivery failures
// never roll the movement back.
type MovementPostedEvent struct {
	MovementID    string    `json:"movement_id"`
	Type          string    `json:"type"`
	ItemCode      string    `json:"item_code"`
	Qty           float64   `json:"qty"`
	WarehouseFrom string    `json:"warehouse_from,omitempty"`
	WarehouseTo   string    `json:"warehouse_to,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	Overdraft     bool      `json:"overdraft,omitempty"`
	PostedAt      time.Time `json:"posted_at"`
}

// IntegrationHandler receives posted-movement events after commit.
// Implementations log and absorb their own failures.
type IntegrationHandler interface {
	MovementPosted(ctx context.Context, evt MovementPostedEvent)
}

func eventFromMovement(m Movement) MovementPostedEvent {
	return MovementPostedEvent{
		MovementID:    m.ID,
		Type:          string(m.Type),
		ItemCode:      m.ItemCode,
		Qty:           m.Qty,
		WarehouseFrom: m.WarehouseFrom,
		WarehouseTo:   m.WarehouseTo,
		Reference:     m.Reference,
		Overdraft:     m.Overdraft,
		PostedAt:      m.CreatedAt,
	}
}

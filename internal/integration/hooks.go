// Package integration bridges committed domain events into the job queue.
package integration

import (
	"context"
	"log/slog"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/jobs"
)

// Hooks forwards posted movements to the export queue. The movement has
// already committed when this runs, so enqueue failures are logged and
// swallowed.
type Hooks struct {
	client *jobs.Client
	logger *slog.Logger
}

// NewHooks constructs Hooks. A nil client disables event forwarding.
func NewHooks(client *jobs.Client, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{client: client, logger: logger}
}

// MovementPosted implements inventory.IntegrationHandler.
func (h *Hooks) MovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) {
	if h == nil || h.client == nil {
		return
	}
	_, err := h.client.EnqueueMovementExport(ctx, jobs.MovementExportPayload{
		MovementID:    evt.MovementID,
		Type:          evt.Type,
		ItemCode:      evt.ItemCode,
		Qty:           evt.Qty,
		WarehouseFrom: evt.WarehouseFrom,
		WarehouseTo:   evt.WarehouseTo,
		Reference:     evt.Reference,
		Overdraft:     evt.Overdraft,
		PostedAt:      evt.PostedAt,
	})
	if err != nil {
		h.logger.Warn("enqueue movement export",
			slog.String("movement_id", evt.MovementID),
			slog.Any("error", err))
		return
	}
	h.logger.Debug("movement export enqueued", slog.String("movement_id", evt.MovementID))
}

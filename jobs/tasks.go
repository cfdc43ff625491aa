package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeMovementExport materialises a committed movement for
	// downstream consumers (ERP sync, reporting extracts).
	TaskTypeMovementExport = "inventory:movement_export"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// MovementExportPayload carries one committed movement.
type MovementExportPayload struct {
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

// NewMovementExportTask constructs an Asynq task for one movement.
func NewMovementExportTask(payload MovementExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeMovementExport, data), nil
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(map[string]string{"retention": retention.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data), nil
}

// MovementExportJob writes committed movements into the export staging table.
// Inserts are keyed by movement id, so a retried task is a no-op.
type MovementExportJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMovementExportJob constructs the job.
func NewMovementExportJob(pool *pgxpool.Pool, logger *slog.Logger) *MovementExportJob {
	return &MovementExportJob{pool: pool, logger: logger}
}

// Handle processes TaskTypeMovementExport tasks.
func (j *MovementExportJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload MovementExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MovementID == "" {
		return asynq.SkipRetry
	}
	_, err := j.pool.Exec(ctx, `INSERT INTO movement_exports (movement_id, payload, exported_at)
VALUES ($1, $2, $3)
ON CONFLICT (movement_id) DO NOTHING`, payload.MovementID, t.Payload(), time.Now().UTC())
	if err != nil {
		j.logger.Error("movement export", slog.String("movement_id", payload.MovementID), slog.Any("error", err))
		return err
	}
	j.logger.Info("movement exported",
		slog.String("movement_id", payload.MovementID),
		slog.String("type", payload.Type))
	return nil
}

// IdempotencyCleaner removes stale idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes idempotency keys past their retention window.
type IdempotencyCleanupJob struct {
	store  IdempotencyCleaner
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle processes TaskTypeIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		Retention string `json:"retention"`
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention, err := time.ParseDuration(payload.Retention)
	if err != nil || retention <= 0 {
		retention = 24 * time.Hour
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	j.logger.Info("idempotency keys pruned", slog.Duration("retention", retention))
	return nil
}

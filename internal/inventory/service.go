package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stocktrail/stocktrail/internal/shared"
)

// Tracking identifiers the item catalog reports for an item.
const (
	TrackingNone   = "NONE"
	TrackingBatch  = "BATCH"
	TrackingSerial = "SERIAL"
)

// CatalogItem is the slice of the item master the engine needs.
type CatalogItem struct {
	Code     string
	Name     string
	UOM      string
	Tracking string
}

// ItemCatalog resolves item codes against the item master.
type ItemCatalog interface {
	Lookup(ctx context.Context, code string) (CatalogItem, error)
}

// WarehouseDirectory verifies warehouse codes.
type WarehouseDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ListMovements(ctx context.Context, limit int) ([]Movement, error)
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posted movements.
type MetricsPort interface {
	MovementPosted(movementType string)
}

// ServiceConfig carries the stock policy knobs.
type ServiceConfig struct {
	// AllowNegativeStock lets outbound legs drive a balance below zero.
	// Movements that do so are persisted with Overdraft set.
	AllowNegativeStock bool
}

// Service validates movement requests and posts them atomically against
// balances and the ledger. It is the only writer of both tables; count and
// outbound sessions post through it as well.
type Service struct {
	repo        RepositoryPort
	catalog     ItemCatalog
	directory   WarehouseDirectory
	audit       AuditPort
	integration IntegrationHandler
	metrics     MetricsPort
	logger      *slog.Logger
	cfg         ServiceConfig
}

// NewService constructs the movement engine. Audit, integration and metrics
// may be nil in tests.
func NewService(repo RepositoryPort, catalog ItemCatalog, directory WarehouseDirectory,
	audit AuditPort, integration IntegrationHandler, metrics MetricsPort,
	logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		catalog:     catalog,
		directory:   directory,
		audit:       audit,
		integration: integration,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// RecordMovement validates and posts a single movement in its own transaction.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Movement, error) {
	prepared, err := s.prepare(ctx, input)
	if err != nil {
		return Movement{}, err
	}
	var posted Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var postErr error
		posted, postErr = s.post(ctx, tx, prepared)
		return postErr
	})
	if err != nil {
		return Movement{}, err
	}
	s.NotifyPosted(ctx, []Movement{posted})
	return posted, nil
}

// RecordBatch posts all inputs in one transaction. Any failing line aborts
// the whole batch; the error names the offending line.
func (s *Service) RecordBatch(ctx context.Context, inputs []MovementInput) ([]Movement, error) {
	if len(inputs) == 0 {
		return []Movement{}, nil
	}
	prepared := make([]preparedMovement, 0, len(inputs))
	for i, input := range inputs {
		p, err := s.prepare(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i+1, strings.TrimSpace(input.ItemCode), err)
		}
		prepared = append(prepared, p)
	}
	posted := make([]Movement, 0, len(prepared))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, p := range prepared {
			m, err := s.post(ctx, tx, p)
			if err != nil {
				return fmt.Errorf("line %d (%s): %w", i+1, p.input.ItemCode, err)
			}
			posted = append(posted, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.NotifyPosted(ctx, posted)
	return posted, nil
}

// PostWith validates and posts one movement inside a caller-owned
// transaction. Session confirm/finalise use it so their state change and the
// movements commit together. The caller invokes NotifyPosted after commit.
func (s *Service) PostWith(ctx context.Context, tx TxRepository, input MovementInput) (Movement, error) {
	prepared, err := s.prepare(ctx, input)
	if err != nil {
		return Movement{}, err
	}
	return s.post(ctx, tx, prepared)
}

// NotifyPosted runs the post-commit side effects for committed movements:
// audit trail, integration events and metrics.
func (s *Service) NotifyPosted(ctx context.Context, movements []Movement) {
	for _, m := range movements {
		if s.audit != nil {
			if err := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  m.ActorID,
				Action:   "movement." + strings.ToLower(string(m.Type)),
				Entity:   "movement",
				EntityID: m.ID,
				Meta: map[string]any{
					"item_code":      m.ItemCode,
					"qty":            m.Qty,
					"warehouse_from": m.WarehouseFrom,
					"warehouse_to":   m.WarehouseTo,
					"overdraft":      m.Overdraft,
				},
				At: m.CreatedAt,
			}); err != nil {
				s.logger.Warn("audit movement", slog.String("movement_id", m.ID), slog.Any("error", err))
			}
		}
		if s.integration != nil {
			s.integration.MovementPosted(ctx, eventFromMovement(m))
		}
		if s.metrics != nil {
			s.metrics.MovementPosted(string(m.Type))
		}
	}
}

// Balances lists balances matching the filter.
func (s *Service) Balances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	filter.ItemCode = strings.ToUpper(strings.TrimSpace(filter.ItemCode))
	filter.WarehouseCode = strings.ToUpper(strings.TrimSpace(filter.WarehouseCode))
	return s.repo.ListBalances(ctx, filter)
}

// Movements lists ledger records, most recent first.
func (s *Service) Movements(ctx context.Context, limit int) ([]Movement, error) {
	return s.repo.ListMovements(ctx, limit)
}

type preparedMovement struct {
	input MovementInput
	item  CatalogItem
}

// prepare normalises and validates the input and resolves master data. It
// performs no writes, so it is safe to run before or inside a transaction.
func (s *Service) prepare(ctx context.Context, input MovementInput) (preparedMovement, error) {
	input.ItemCode = strings.ToUpper(strings.TrimSpace(input.ItemCode))
	input.WarehouseFrom = strings.ToUpper(strings.TrimSpace(input.WarehouseFrom))
	input.WarehouseTo = strings.ToUpper(strings.TrimSpace(input.WarehouseTo))
	input.Batch = strings.TrimSpace(input.Batch)
	input.Serial = strings.TrimSpace(input.Serial)
	input.ActorID = strings.TrimSpace(input.ActorID)

	if input.ActorID == "" {
		return preparedMovement{}, ErrActorRequired
	}
	if !input.Type.Valid() {
		return preparedMovement{}, fmt.Errorf("%w: %q", ErrUnknownMovementType, input.Type)
	}
	if input.ItemCode == "" {
		return preparedMovement{}, fmt.Errorf("%w: empty item code", ErrItemNotFound)
	}

	if input.Type == MovementAdjust {
		if math.Abs(input.Qty) <= qtyEpsilon {
			return preparedMovement{}, fmt.Errorf("%w: adjustment quantity must be non-zero", ErrInvalidQuantity)
		}
	} else if input.Qty <= qtyEpsilon {
		return preparedMovement{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}

	if err := s.checkWarehouses(ctx, input); err != nil {
		return preparedMovement{}, err
	}

	item, err := s.catalog.Lookup(ctx, input.ItemCode)
	if err != nil {
		return preparedMovement{}, fmt.Errorf("%w: %s", ErrItemNotFound, input.ItemCode)
	}

	switch item.Tracking {
	case TrackingBatch:
		if input.Batch == "" {
			return preparedMovement{}, fmt.Errorf("%w: %s", ErrBatchRequired, item.Code)
		}
	case TrackingSerial:
		if input.Serial == "" {
			return preparedMovement{}, fmt.Errorf("%w: %s", ErrSerialRequired, item.Code)
		}
		// One serial, one unit. Adjustments may still zero a stray balance.
		if input.Type != MovementAdjust && math.Abs(input.Qty-1) > qtyEpsilon {
			return preparedMovement{}, fmt.Errorf("%w: serial-tracked items move one unit at a time", ErrInvalidQuantity)
		}
	}

	if input.UOM == "" {
		input.UOM = item.UOM
	}
	return preparedMovement{input: input, item: item}, nil
}

func (s *Service) checkWarehouses(ctx context.Context, input MovementInput) error {
	var required []string
	switch input.Type {
	case MovementInbound, MovementReturn, MovementAdjust:
		if input.WarehouseTo == "" {
			return fmt.Errorf("%w: warehouse_to required for %s", ErrWarehouseRequired, input.Type)
		}
		required = []string{input.WarehouseTo}
	case MovementOutbound:
		if input.WarehouseFrom == "" {
			return fmt.Errorf("%w: warehouse_from required for %s", ErrWarehouseRequired, input.Type)
		}
		required = []string{input.WarehouseFrom}
	case MovementTransfer:
		if input.WarehouseFrom == "" || input.WarehouseTo == "" {
			return fmt.Errorf("%w: transfer requires both warehouses", ErrWarehouseRequired)
		}
		if input.WarehouseFrom == input.WarehouseTo {
			return ErrSameWarehouse
		}
		required = []string{input.WarehouseFrom, input.WarehouseTo}
	}
	for _, code := range required {
		ok, err := s.directory.Exists(ctx, code)
		if err != nil {
			return fmt.Errorf("check warehouse %s: %w", code, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrWarehouseNotFound, code)
		}
	}
	return nil
}

// post applies the balance deltas and appends the ledger record. Outbound
// legs lock the source balance first so concurrent issues of one key
// serialise and the overdraft check sees a consistent quantity.
func (s *Service) post(ctx context.Context, tx TxRepository, p preparedMovement) (Movement, error) {
	in := p.input
	overdraft := false

	switch in.Type {
	case MovementInbound, MovementReturn:
		if _, err := tx.ApplyDelta(ctx, in.ItemCode, in.WarehouseTo, in.Batch, in.Serial, in.Qty); err != nil {
			return Movement{}, err
		}
	case MovementOutbound, MovementTransfer:
		bal, err := tx.GetBalanceForUpdate(ctx, in.ItemCode, in.WarehouseFrom, in.Batch, in.Serial)
		if err != nil {
			return Movement{}, err
		}
		remaining := bal.Qty - in.Qty
		if remaining < -qtyEpsilon {
			if !s.cfg.AllowNegativeStock {
				return Movement{}, fmt.Errorf("%w: %s at %s has %.3f, need %.3f",
					ErrInsufficientStock, in.ItemCode, in.WarehouseFrom, bal.Qty, in.Qty)
			}
			overdraft = true
		}
		if _, err := tx.ApplyDelta(ctx, in.ItemCode, in.WarehouseFrom, in.Batch, in.Serial, -in.Qty); err != nil {
			return Movement{}, err
		}
		if in.Type == MovementTransfer {
			if _, err := tx.ApplyDelta(ctx, in.ItemCode, in.WarehouseTo, in.Batch, in.Serial, in.Qty); err != nil {
				return Movement{}, err
			}
		}
	case MovementAdjust:
		bal, err := tx.GetBalanceForUpdate(ctx, in.ItemCode, in.WarehouseTo, in.Batch, in.Serial)
		if err != nil {
			return Movement{}, err
		}
		overdraft = bal.Qty+in.Qty < -qtyEpsilon
		if _, err := tx.ApplyDelta(ctx, in.ItemCode, in.WarehouseTo, in.Batch, in.Serial, in.Qty); err != nil {
			return Movement{}, err
		}
	}

	m := Movement{
		ID:            uuid.NewString(),
		Type:          in.Type,
		ItemCode:      in.ItemCode,
		ItemName:      p.item.Name,
		Qty:           in.Qty,
		UOM:           in.UOM,
		WarehouseFrom: in.WarehouseFrom,
		WarehouseTo:   in.WarehouseTo,
		Batch:         in.Batch,
		Serial:        in.Serial,
		Reference:     in.Reference,
		Note:          in.Note,
		ActorID:       in.ActorID,
		Overdraft:     overdraft,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	return m, nil
}

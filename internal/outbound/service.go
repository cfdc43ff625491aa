package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/scan"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context, limit int) ([]Session, error)
	InsertEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, sessionID string) ([]Entry, error)
	Cancel(ctx context.Context, id string, at time.Time) error
	Confirm(ctx context.Context, id string, fn func(context.Context, ConfirmTx) error) error
}

// Engine posts movements inside a caller-owned transaction.
type Engine interface {
	PostWith(ctx context.Context, tx inventory.TxRepository, input inventory.MovementInput) (inventory.Movement, error)
	NotifyPosted(ctx context.Context, movements []inventory.Movement)
}

// WarehouseDirectory verifies warehouse codes.
type WarehouseDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// OpenInput describes a new picking session.
type OpenInput struct {
	Type          string
	WarehouseFrom string
	WarehouseTo   string
	Reference     string
	Note          string
	ActorID       string
}

// Service drives the picking session state machine.
type Service struct {
	repo      RepositoryPort
	engine    Engine
	resolver  scan.Resolver
	directory WarehouseDirectory
	logger    *slog.Logger
}

// NewService constructs the outbound service.
func NewService(repo RepositoryPort, engine Engine, resolver scan.Resolver, directory WarehouseDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, resolver: resolver, directory: directory, logger: logger}
}

// Open starts a picking session.
func (s *Service) Open(ctx context.Context, input OpenInput) (Session, error) {
	input.Type = strings.ToUpper(strings.TrimSpace(input.Type))
	input.WarehouseFrom = strings.ToUpper(strings.TrimSpace(input.WarehouseFrom))
	input.WarehouseTo = strings.ToUpper(strings.TrimSpace(input.WarehouseTo))
	input.ActorID = strings.TrimSpace(input.ActorID)

	if input.ActorID == "" {
		return Session{}, inventory.ErrActorRequired
	}
	switch input.Type {
	case TypeOutbound:
		input.WarehouseTo = ""
	case TypeTransfer:
		if input.WarehouseTo == "" {
			return Session{}, fmt.Errorf("%w: transfer requires warehouse_to", inventory.ErrWarehouseRequired)
		}
		if input.WarehouseTo == input.WarehouseFrom {
			return Session{}, inventory.ErrSameWarehouse
		}
	default:
		return Session{}, fmt.Errorf("%w: %q", ErrUnknownType, input.Type)
	}
	if input.WarehouseFrom == "" {
		return Session{}, fmt.Errorf("%w: warehouse_from required", inventory.ErrWarehouseRequired)
	}

	check := []string{input.WarehouseFrom}
	if input.WarehouseTo != "" {
		check = append(check, input.WarehouseTo)
	}
	for _, code := range check {
		ok, err := s.directory.Exists(ctx, code)
		if err != nil {
			return Session{}, fmt.Errorf("check warehouse %s: %w", code, err)
		}
		if !ok {
			return Session{}, fmt.Errorf("%w: %s", inventory.ErrWarehouseNotFound, code)
		}
	}

	session := Session{
		ID:            uuid.NewString(),
		Type:          input.Type,
		WarehouseFrom: input.WarehouseFrom,
		WarehouseTo:   input.WarehouseTo,
		Status:        StatusOpen,
		Reference:     strings.TrimSpace(input.Reference),
		Note:          strings.TrimSpace(input.Note),
		CreatedBy:     input.ActorID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, session); err != nil {
		return Session{}, err
	}
	s.logger.Info("outbound session opened",
		slog.String("session_id", session.ID),
		slog.String("type", session.Type),
		slog.String("warehouse_from", session.WarehouseFrom))
	return session, nil
}

// Scan records one picked quantity.
func (s *Service) Scan(ctx context.Context, sessionID, barcode, batch, serial string, qty float64, actorID string) (Entry, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Entry{}, inventory.ErrActorRequired
	}
	if qty <= 0 {
		return Entry{}, ErrInvalidQuantity
	}
	itemCode, err := s.resolver.Resolve(ctx, barcode)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		SessionID: sessionID,
		ItemCode:  itemCode,
		Batch:     strings.TrimSpace(batch),
		Serial:    strings.TrimSpace(serial),
		Qty:       qty,
		ScannedBy: actorID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Get returns a session with its raw entries.
func (s *Service) Get(ctx context.Context, id string) (Session, []Entry, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return Session{}, nil, err
	}
	entries, err := s.repo.ListEntries(ctx, id)
	if err != nil {
		return Session{}, nil, err
	}
	return session, entries, nil
}

// List returns recent sessions.
func (s *Service) List(ctx context.Context, limit int) ([]Session, error) {
	return s.repo.List(ctx, limit)
}

// Confirm aggregates the scans into one line per balance key and posts the
// movements. All lines post or none do; on failure the session stays open so
// the picker can fix the problem and retry. A session with no scans confirms
// with zero lines.
func (s *Service) Confirm(ctx context.Context, sessionID, actorID string) (ConfirmResult, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ConfirmResult{}, inventory.ErrActorRequired
	}

	var result ConfirmResult
	err := s.repo.Confirm(ctx, sessionID, func(ctx context.Context, ptx ConfirmTx) error {
		session, err := ptx.Lock(ctx)
		if err != nil {
			return err
		}
		if session.Status != StatusOpen {
			return ErrSessionNotOpen
		}

		lines, err := ptx.Lines(ctx)
		if err != nil {
			return err
		}

		movementType := inventory.MovementOutbound
		if session.Type == TypeTransfer {
			movementType = inventory.MovementTransfer
		}
		reference := session.Reference
		if reference == "" {
			reference = "OUT-" + session.ID[:8]
		}

		movements := []inventory.Movement{}
		for _, line := range lines {
			m, err := s.engine.PostWith(ctx, ptx.Movements(), inventory.MovementInput{
				Type:          movementType,
				ItemCode:      line.ItemCode,
				Qty:           line.Qty,
				WarehouseFrom: session.WarehouseFrom,
				WarehouseTo:   session.WarehouseTo,
				Batch:         line.Batch,
				Serial:        line.Serial,
				Reference:     reference,
				Note:          session.Note,
				ActorID:       actorID,
			})
			if err != nil {
				return fmt.Errorf("pick %s: %w", line.ItemCode, err)
			}
			movements = append(movements, m)
		}

		now := time.Now().UTC()
		if err := ptx.Close(ctx, now); err != nil {
			return err
		}
		session.Status = StatusConfirmed
		session.ClosedAt = &now

		result = ConfirmResult{Session: session, Lines: lines, Movements: movements}
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	if len(result.Movements) > 0 {
		s.engine.NotifyPosted(ctx, result.Movements)
	}
	s.logger.Info("outbound session confirmed",
		slog.String("session_id", sessionID),
		slog.Int("lines", len(result.Lines)))
	return result, nil
}

// Cancel closes an open session without posting movements.
func (s *Service) Cancel(ctx context.Context, sessionID, actorID string) (Session, error) {
	if strings.TrimSpace(actorID) == "" {
		return Session{}, inventory.ErrActorRequired
	}
	if err := s.repo.Cancel(ctx, sessionID, time.Now().UTC()); err != nil {
		return Session{}, err
	}
	s.logger.Info("outbound session cancelled", slog.String("session_id", sessionID))
	return s.repo.Get(ctx, sessionID)
}

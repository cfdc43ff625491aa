package counting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/scan"
)

const deltaEpsilon = 1e-9

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context, limit int) ([]Session, error)
	InsertEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, sessionID string) ([]Entry, error)
	Finalize(ctx context.Context, id string, fn func(context.Context, FinalizeTx) error) error
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

// Service drives the count session state machine.
type Service struct {
	repo      RepositoryPort
	engine    Engine
	resolver  scan.Resolver
	catalog   inventory.ItemCatalog
	directory WarehouseDirectory
	logger    *slog.Logger
}

// NewService constructs the counting service.
func NewService(repo RepositoryPort, engine Engine, resolver scan.Resolver, catalog inventory.ItemCatalog, directory WarehouseDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, resolver: resolver, catalog: catalog, directory: directory, logger: logger}
}

// Open starts a count session against one warehouse.
func (s *Service) Open(ctx context.Context, warehouse, note, actorID string) (Session, error) {
	warehouse = strings.ToUpper(strings.TrimSpace(warehouse))
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Session{}, inventory.ErrActorRequired
	}
	if warehouse == "" {
		return Session{}, fmt.Errorf("%w: warehouse required", inventory.ErrWarehouseRequired)
	}
	ok, err := s.directory.Exists(ctx, warehouse)
	if err != nil {
		return Session{}, fmt.Errorf("check warehouse %s: %w", warehouse, err)
	}
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", inventory.ErrWarehouseNotFound, warehouse)
	}

	session := Session{
		ID:            uuid.NewString(),
		WarehouseCode: warehouse,
		Status:        StatusOpen,
		Note:          strings.TrimSpace(note),
		CreatedBy:     actorID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, session); err != nil {
		return Session{}, err
	}
	s.logger.Info("count session opened",
		slog.String("session_id", session.ID),
		slog.String("warehouse", warehouse))
	return session, nil
}

// Scan records one counted quantity. Zero is a valid count: it asserts the
// key is empty on the shelf. Batch and serial identifiers are required up
// front when the item tracks them, so finalise never trips over an entry the
// adjustment cannot post.
func (s *Service) Scan(ctx context.Context, sessionID, barcode, batch, serial string, qty float64, actorID string) (Entry, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Entry{}, inventory.ErrActorRequired
	}
	if qty < 0 {
		return Entry{}, ErrInvalidQuantity
	}
	itemCode, err := s.resolver.Resolve(ctx, barcode)
	if err != nil {
		return Entry{}, err
	}
	batch = strings.TrimSpace(batch)
	serial = strings.TrimSpace(serial)

	item, err := s.catalog.Lookup(ctx, itemCode)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s", inventory.ErrItemNotFound, itemCode)
	}
	switch item.Tracking {
	case inventory.TrackingBatch:
		if batch == "" {
			return Entry{}, fmt.Errorf("%w: %s", inventory.ErrBatchRequired, item.Code)
		}
	case inventory.TrackingSerial:
		if serial == "" {
			return Entry{}, fmt.Errorf("%w: %s", inventory.ErrSerialRequired, item.Code)
		}
	}

	entry := Entry{
		SessionID: sessionID,
		ItemCode:  itemCode,
		Batch:     batch,
		Serial:    serial,
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

// Finalize closes the session and reconciles the counted totals against the
// full warehouse: scanned keys adjust to the counted quantity, and every
// unscanned key with a non-zero system quantity adjusts to zero. With apply
// false the adjustments are only proposed and nothing changes.
func (s *Service) Finalize(ctx context.Context, sessionID string, apply bool, actorID string) (FinalizeResult, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return FinalizeResult{}, inventory.ErrActorRequired
	}

	var result FinalizeResult
	err := s.repo.Finalize(ctx, sessionID, func(ctx context.Context, ftx FinalizeTx) error {
		session, err := ftx.Lock(ctx)
		if err != nil {
			return err
		}
		if session.Status != StatusOpen {
			return ErrSessionClosed
		}

		totals, err := ftx.Totals(ctx)
		if err != nil {
			return err
		}
		balances, err := ftx.WarehouseBalances(ctx, session.WarehouseCode)
		if err != nil {
			return err
		}

		adjustments := reconcile(totals, balances)
		movements := []inventory.Movement{}
		if apply {
			reference := "COUNT-" + session.ID[:8]
			for _, adj := range adjustments {
				m, err := s.engine.PostWith(ctx, ftx.Movements(), inventory.MovementInput{
					Type:        inventory.MovementAdjust,
					ItemCode:    adj.ItemCode,
					Qty:         adj.Delta,
					WarehouseTo: session.WarehouseCode,
					Batch:       adj.Batch,
					Serial:      adj.Serial,
					Reference:   reference,
					Note:        "stock count reconciliation",
					ActorID:     actorID,
				})
				if err != nil {
					return fmt.Errorf("adjust %s: %w", adj.ItemCode, err)
				}
				movements = append(movements, m)
			}
		}

		now := time.Now().UTC()
		if err := ftx.Close(ctx, now); err != nil {
			return err
		}
		session.Status = StatusClosed
		session.ClosedAt = &now

		result = FinalizeResult{
			Session:     session,
			Adjustments: adjustments,
			Applied:     apply,
			Movements:   movements,
		}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	if len(result.Movements) > 0 {
		s.engine.NotifyPosted(ctx, result.Movements)
	}
	s.logger.Info("count session finalised",
		slog.String("session_id", sessionID),
		slog.Bool("applied", apply),
		slog.Int("adjustments", len(result.Adjustments)))
	return result, nil
}

type balanceKey struct {
	item, batch, serial string
}

// reconcile diffs counted totals against the warehouse's system balances.
// Scanned keys matching the system quantity produce no adjustment.
func reconcile(totals []EntryTotal, balances []inventory.Balance) []Adjustment {
	system := map[balanceKey]float64{}
	for _, b := range balances {
		system[balanceKey{b.ItemCode, b.Batch, b.Serial}] = b.Qty
	}

	adjustments := []Adjustment{}
	counted := map[balanceKey]bool{}
	for _, t := range totals {
		key := balanceKey{t.ItemCode, t.Batch, t.Serial}
		counted[key] = true
		if math.Abs(t.Qty-system[key]) <= deltaEpsilon {
			continue
		}
		adjustments = append(adjustments, Adjustment{
			ItemCode:   t.ItemCode,
			Batch:      t.Batch,
			Serial:     t.Serial,
			SystemQty:  system[key],
			CountedQty: t.Qty,
			Delta:      t.Qty - system[key],
		})
	}
	for key, qty := range system {
		if counted[key] || math.Abs(qty) <= deltaEpsilon {
			continue
		}
		adjustments = append(adjustments, Adjustment{
			ItemCode:   key.item,
			Batch:      key.batch,
			Serial:     key.serial,
			SystemQty:  qty,
			CountedQty: 0,
			Delta:      -qty,
		})
	}

	sort.Slice(adjustments, func(i, j int) bool {
		a, b := adjustments[i], adjustments[j]
		if a.ItemCode != b.ItemCode {
			return a.ItemCode < b.ItemCode
		}
		if a.Batch != b.Batch {
			return a.Batch < b.Batch
		}
		return a.Serial < b.Serial
	})
	return adjustments
}

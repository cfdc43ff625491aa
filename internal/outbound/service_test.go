package outbound

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/scan"
)

type balanceWhKey struct {
	item, warehouse, batch, serial string
}

type memStore struct {
	sessions  map[string]Session
	entries   []Entry
	balances  map[balanceWhKey]float64
	movements []inventory.Movement
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[string]Session{},
		balances: map[balanceWhKey]float64{},
	}
}

func (s *memStore) Insert(_ context.Context, sess Session) error {
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *memStore) List(_ context.Context, limit int) ([]Session, error) {
	out := []Session{}
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) InsertEntry(_ context.Context, e Entry) error {
	sess, ok := s.sessions[e.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status != StatusOpen {
		return ErrSessionNotOpen
	}
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) ListEntries(_ context.Context, sessionID string) ([]Entry, error) {
	out := []Entry{}
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) Cancel(_ context.Context, id string, at time.Time) error {
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status != StatusOpen {
		return ErrSessionNotOpen
	}
	sess.Status = StatusCancelled
	sess.ClosedAt = &at
	s.sessions[id] = sess
	return nil
}

func (s *memStore) Confirm(ctx context.Context, id string, fn func(context.Context, ConfirmTx) error) error {
	sessions := make(map[string]Session, len(s.sessions))
	for k, v := range s.sessions {
		sessions[k] = v
	}
	balances := make(map[balanceWhKey]float64, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	count := len(s.movements)

	if err := fn(ctx, &memConfirmTx{store: s, sessionID: id}); err != nil {
		s.sessions = sessions
		s.balances = balances
		s.movements = s.movements[:count]
		return err
	}
	return nil
}

type memConfirmTx struct {
	store     *memStore
	sessionID string
}

func (t *memConfirmTx) Lock(_ context.Context) (Session, error) {
	sess, ok := t.store.sessions[t.sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (t *memConfirmTx) Lines(_ context.Context) ([]Line, error) {
	type key struct{ item, batch, serial string }
	sums := map[key]float64{}
	for _, e := range t.store.entries {
		if e.SessionID != t.sessionID {
			continue
		}
		sums[key{e.ItemCode, e.Batch, e.Serial}] += e.Qty
	}
	lines := []Line{}
	for k, qty := range sums {
		lines = append(lines, Line{ItemCode: k.item, Batch: k.batch, Serial: k.serial, Qty: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ItemCode < lines[j].ItemCode })
	return lines, nil
}

func (t *memConfirmTx) Close(_ context.Context, at time.Time) error {
	sess, ok := t.store.sessions[t.sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status != StatusOpen {
		return ErrSessionNotOpen
	}
	sess.Status = StatusConfirmed
	sess.ClosedAt = &at
	t.store.sessions[t.sessionID] = sess
	return nil
}

func (t *memConfirmTx) Movements() inventory.TxRepository {
	return (*memMovementTx)(t.store)
}

type memMovementTx memStore

func (t *memMovementTx) GetBalanceForUpdate(_ context.Context, item, warehouse, batch, serial string) (inventory.Balance, error) {
	return inventory.Balance{
		ItemCode: item, WarehouseCode: warehouse, Batch: batch, Serial: serial,
		Qty: t.balances[balanceWhKey{item, warehouse, batch, serial}],
	}, nil
}

func (t *memMovementTx) ApplyDelta(_ context.Context, item, warehouse, batch, serial string, delta float64) (float64, error) {
	key := balanceWhKey{item, warehouse, batch, serial}
	t.balances[key] += delta
	return t.balances[key], nil
}

func (t *memMovementTx) InsertMovement(_ context.Context, m inventory.Movement) error {
	t.movements = append(t.movements, m)
	return nil
}

type fakeCatalog map[string]inventory.CatalogItem

func (c fakeCatalog) Lookup(_ context.Context, code string) (inventory.CatalogItem, error) {
	item, ok := c[code]
	if !ok {
		return inventory.CatalogItem{}, errors.New("no such item")
	}
	return item, nil
}

type fakeDirectory map[string]bool

func (d fakeDirectory) Exists(_ context.Context, code string) (bool, error) {
	return d[code], nil
}

type fakeChecker map[string]bool

func (c fakeChecker) Exists(_ context.Context, code string) (bool, error) {
	return c[code], nil
}

func newTestService(store *memStore) *Service {
	catalog := fakeCatalog{
		"SKU-001": {Code: "SKU-001", Name: "Widget", UOM: "EA", Tracking: inventory.TrackingNone},
		"SKU-002": {Code: "SKU-002", Name: "Gadget", UOM: "EA", Tracking: inventory.TrackingNone},
	}
	directory := fakeDirectory{"WH1": true, "WH2": true}
	engine := inventory.NewService(nil, catalog, directory, nil, nil, nil, nil, inventory.ServiceConfig{})
	resolver := scan.NewItemCodeResolver(fakeChecker{"SKU-001": true, "SKU-002": true})
	return NewService(store, engine, resolver, directory, nil)
}

func TestOpenValidation(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	_, err := svc.Open(ctx, OpenInput{Type: "PICKUP", WarehouseFrom: "WH1", ActorID: "u1"})
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = svc.Open(ctx, OpenInput{Type: TypeTransfer, WarehouseFrom: "WH1", WarehouseTo: "WH1", ActorID: "u1"})
	require.ErrorIs(t, err, inventory.ErrSameWarehouse)

	_, err = svc.Open(ctx, OpenInput{Type: TypeTransfer, WarehouseFrom: "WH1", ActorID: "u1"})
	require.ErrorIs(t, err, inventory.ErrWarehouseRequired)

	_, err = svc.Open(ctx, OpenInput{Type: TypeOutbound, WarehouseFrom: "WH9", ActorID: "u1"})
	require.ErrorIs(t, err, inventory.ErrWarehouseNotFound)
}

func TestConfirmAggregatesScans(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 10
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, OpenInput{Type: TypeOutbound, WarehouseFrom: "WH1", ActorID: "u1"})
	require.NoError(t, err)

	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 3, "u1")
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "sku-001", "", "", 2, "u1")
	require.NoError(t, err)

	result, err := svc.Confirm(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, result.Session.Status)

	// Two scans of the same key collapse into one line and one movement.
	require.Len(t, result.Lines, 1)
	require.InDelta(t, 5, result.Lines[0].Qty, 1e-9)
	require.Len(t, result.Movements, 1)
	require.Equal(t, inventory.MovementOutbound, result.Movements[0].Type)
	require.InDelta(t, 5, store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}], 1e-9)
}

func TestConfirmTransferMovesBothLegs(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 8
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, OpenInput{Type: TypeTransfer, WarehouseFrom: "WH1", WarehouseTo: "WH2", ActorID: "u1"})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 8, "u1")
	require.NoError(t, err)

	result, err := svc.Confirm(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, inventory.MovementTransfer, result.Movements[0].Type)
	require.InDelta(t, 0, store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}], 1e-9)
	require.InDelta(t, 8, store.balances[balanceWhKey{"SKU-001", "WH2", "", ""}], 1e-9)
}

func TestConfirmAllOrNothing(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 10
	store.balances[balanceWhKey{"SKU-002", "WH1", "", ""}] = 1
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, OpenInput{Type: TypeOutbound, WarehouseFrom: "WH1", ActorID: "u1"})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 4, "u1")
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "SKU-002", "", "", 5, "u1")
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, session.ID, "u1")
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// Nothing posted and the session stays open for a corrected retry.
	require.InDelta(t, 10, store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}], 1e-9)
	require.InDelta(t, 1, store.balances[balanceWhKey{"SKU-002", "WH1", "", ""}], 1e-9)
	require.Empty(t, store.movements)
	require.Equal(t, StatusOpen, store.sessions[session.ID].Status)
}

func TestConfirmEmptySession(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, OpenInput{Type: TypeOutbound, WarehouseFrom: "WH1", ActorID: "u1"})
	require.NoError(t, err)

	result, err := svc.Confirm(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Empty(t, result.Lines)
	require.Empty(t, result.Movements)
	require.Equal(t, StatusConfirmed, result.Session.Status)
}

func TestScanAfterConfirmRejected(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, OpenInput{Type: TypeOutbound, WarehouseFrom: "WH1", ActorID: "u1"})
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, session.ID, "u1")
	require.NoError(t, err)

	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 1, "u1")
	require.ErrorIs(t, err, ErrSessionNotOpen)

	_, err = svc.Confirm(ctx, session.ID, "u1")
	require.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestCancel(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 10
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, OpenInput{Type: TypeOutbound, WarehouseFrom: "WH1", ActorID: "u1"})
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 3, "u1")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ClosedAt)

	// Cancelling posts nothing.
	require.InDelta(t, 10, store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}], 1e-9)
	require.Empty(t, store.movements)

	_, err = svc.Confirm(ctx, session.ID, "u1")
	require.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestScanValidation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, OpenInput{Type: TypeOutbound, WarehouseFrom: "WH1", ActorID: "u1"})
	require.NoError(t, err)

	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 0, "u1")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Scan(ctx, session.ID, "UNKNOWN", "", "", 1, "u1")
	require.ErrorIs(t, err, scan.ErrUnknownBarcode)
}

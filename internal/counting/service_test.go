package counting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocktrail/stocktrail/internal/inventory"
	"github.com/stocktrail/stocktrail/internal/scan"
)

type memStore struct {
	sessions  map[string]Session
	entries   []Entry
	balances  map[balanceWhKey]float64
	movements []inventory.Movement
	nextID    int64
}

type balanceWhKey struct {
	item, warehouse, batch, serial string
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
		return ErrSessionClosed
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

func (s *memStore) Finalize(ctx context.Context, id string, fn func(context.Context, FinalizeTx) error) error {
	sessions := make(map[string]Session, len(s.sessions))
	for k, v := range s.sessions {
		sessions[k] = v
	}
	balances := make(map[balanceWhKey]float64, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	count := len(s.movements)

	if err := fn(ctx, &memFinalizeTx{store: s, sessionID: id}); err != nil {
		s.sessions = sessions
		s.balances = balances
		s.movements = s.movements[:count]
		return err
	}
	return nil
}

type memFinalizeTx struct {
	store     *memStore
	sessionID string
}

func (t *memFinalizeTx) Lock(_ context.Context) (Session, error) {
	sess, ok := t.store.sessions[t.sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (t *memFinalizeTx) Totals(_ context.Context) ([]EntryTotal, error) {
	sums := map[balanceKey]float64{}
	order := []balanceKey{}
	for _, e := range t.store.entries {
		if e.SessionID != t.sessionID {
			continue
		}
		key := balanceKey{e.ItemCode, e.Batch, e.Serial}
		if _, seen := sums[key]; !seen {
			order = append(order, key)
		}
		sums[key] += e.Qty
	}
	totals := []EntryTotal{}
	for _, key := range order {
		totals = append(totals, EntryTotal{ItemCode: key.item, Batch: key.batch, Serial: key.serial, Qty: sums[key]})
	}
	return totals, nil
}

func (t *memFinalizeTx) WarehouseBalances(_ context.Context, warehouse string) ([]inventory.Balance, error) {
	out := []inventory.Balance{}
	for key, qty := range t.store.balances {
		if key.warehouse != warehouse {
			continue
		}
		out = append(out, inventory.Balance{
			ItemCode: key.item, WarehouseCode: key.warehouse,
			Batch: key.batch, Serial: key.serial, Qty: qty,
		})
	}
	return out, nil
}

func (t *memFinalizeTx) Close(_ context.Context, at time.Time) error {
	sess, ok := t.store.sessions[t.sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status != StatusOpen {
		return ErrSessionClosed
	}
	sess.Status = StatusClosed
	sess.ClosedAt = &at
	t.store.sessions[t.sessionID] = sess
	return nil
}

func (t *memFinalizeTx) Movements() inventory.TxRepository {
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
		"SKU-BAT": {Code: "SKU-BAT", Name: "Batched", UOM: "EA", Tracking: inventory.TrackingBatch},
		"SKU-SER": {Code: "SKU-SER", Name: "Serialised", UOM: "EA", Tracking: inventory.TrackingSerial},
	}
	directory := fakeDirectory{"WH1": true}
	engine := inventory.NewService(nil, catalog, directory, nil, nil, nil, nil, inventory.ServiceConfig{})
	resolver := scan.NewItemCodeResolver(fakeChecker{"SKU-001": true, "SKU-002": true, "SKU-BAT": true, "SKU-SER": true})
	return NewService(store, engine, resolver, catalog, directory, nil)
}

func TestFinalizeAppliesAdjustments(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 10
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "cycle count", "u1")
	require.NoError(t, err)

	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 3, "u1")
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "sku-001", "", "", 4, "u1")
	require.NoError(t, err)

	result, err := svc.Finalize(ctx, session.ID, true, "u1")
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, StatusClosed, result.Session.Status)
	require.Len(t, result.Adjustments, 1)
	require.InDelta(t, 10, result.Adjustments[0].SystemQty, 1e-9)
	require.InDelta(t, 7, result.Adjustments[0].CountedQty, 1e-9)
	require.InDelta(t, -3, result.Adjustments[0].Delta, 1e-9)

	require.Len(t, result.Movements, 1)
	require.Equal(t, inventory.MovementAdjust, result.Movements[0].Type)
	require.InDelta(t, 7, store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}], 1e-9)
}

func TestFinalizeZeroesUnscannedKeys(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 10
	store.balances[balanceWhKey{"SKU-002", "WH1", "", ""}] = 4
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "", "u1")
	require.NoError(t, err)

	// SKU-001 confirmed at its system quantity; SKU-002 never scanned.
	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 10, "u1")
	require.NoError(t, err)

	result, err := svc.Finalize(ctx, session.ID, true, "u1")
	require.NoError(t, err)

	// The confirmed key produces no adjustment; only the unscanned key does.
	require.Len(t, result.Adjustments, 1)
	require.Equal(t, "SKU-002", result.Adjustments[0].ItemCode)
	require.InDelta(t, -4, result.Adjustments[0].Delta, 1e-9)

	require.Len(t, result.Movements, 1)
	require.InDelta(t, 10, store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}], 1e-9)
	require.InDelta(t, 0, store.balances[balanceWhKey{"SKU-002", "WH1", "", ""}], 1e-9)
}

func TestFinalizeCountMatchingSystemProposesNothing(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 10
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "", "u1")
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 10, "u1")
	require.NoError(t, err)

	result, err := svc.Finalize(ctx, session.ID, false, "u1")
	require.NoError(t, err)
	require.Empty(t, result.Adjustments)
	require.Empty(t, result.Movements)
	require.Equal(t, StatusClosed, result.Session.Status)
}

func TestFinalizeProposeOnly(t *testing.T) {
	store := newMemStore()
	store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}] = 10
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "", "u1")
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 6, "u1")
	require.NoError(t, err)

	result, err := svc.Finalize(ctx, session.ID, false, "u1")
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Len(t, result.Adjustments, 1)
	require.InDelta(t, -4, result.Adjustments[0].Delta, 1e-9)
	require.Empty(t, result.Movements)

	// Balances untouched, but the session still closes.
	require.InDelta(t, 10, store.balances[balanceWhKey{"SKU-001", "WH1", "", ""}], 1e-9)
	require.Equal(t, StatusClosed, store.sessions[session.ID].Status)
}

func TestFinalizeTwiceRejected(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "", "u1")
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, session.ID, true, "u1")
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, session.ID, true, "u1")
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestScanAfterCloseRejected(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "", "u1")
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, session.ID, false, "u1")
	require.NoError(t, err)

	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 1, "u1")
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestScanValidation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "", "u1")
	require.NoError(t, err)

	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", -1, "u1")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Scan(ctx, session.ID, "UNKNOWN", "", "", 1, "u1")
	require.ErrorIs(t, err, scan.ErrUnknownBarcode)

	// Zero counts a key as empty.
	_, err = svc.Scan(ctx, session.ID, "SKU-001", "", "", 0, "u1")
	require.NoError(t, err)
}

func TestScanTrackedItemRequiresIdentifier(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	session, err := svc.Open(ctx, "WH1", "", "u1")
	require.NoError(t, err)

	_, err = svc.Scan(ctx, session.ID, "SKU-BAT", "", "", 5, "u1")
	require.ErrorIs(t, err, inventory.ErrBatchRequired)

	_, err = svc.Scan(ctx, session.ID, "SKU-SER", "", "", 1, "u1")
	require.ErrorIs(t, err, inventory.ErrSerialRequired)

	// A rejected scan leaves no entry behind.
	entries, err := store.ListEntries(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = svc.Scan(ctx, session.ID, "SKU-BAT", "B-01", "", 5, "u1")
	require.NoError(t, err)
	_, err = svc.Scan(ctx, session.ID, "SKU-SER", "", "SN-9", 1, "u1")
	require.NoError(t, err)
}

func TestOpenUnknownWarehouse(t *testing.T) {
	svc := newTestService(newMemStore())

	_, err := svc.Open(context.Background(), "WH9", "", "u1")
	require.ErrorIs(t, err, inventory.ErrWarehouseNotFound)
}

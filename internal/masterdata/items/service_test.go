package items

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	items map[string]Item
	gets  int
}

func (r *countingRepo) Get(_ context.Context, code string) (Item, error) {
	r.gets++
	it, ok := r.items[code]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (r *countingRepo) List(_ context.Context, _ ListFilter) ([]Item, error) {
	out := []Item{}
	for _, it := range r.items {
		out = append(out, it)
	}
	return out, nil
}

func (r *countingRepo) Upsert(_ context.Context, it Item) (Item, error) {
	it.UpdatedAt = time.Now().UTC()
	r.items[it.Code] = it
	return it, nil
}

func newCacheForTest(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestLookupCachesRepositoryHit(t *testing.T) {
	repo := &countingRepo{items: map[string]Item{
		"SKU-001": {Code: "SKU-001", Name: "Widget", UOM: "EA", Tracking: TrackingNone, Active: true},
	}}
	svc := NewService(repo, newCacheForTest(t), nil)
	ctx := context.Background()

	first, err := svc.Lookup(ctx, " sku-001 ")
	require.NoError(t, err)
	require.Equal(t, "Widget", first.Name)
	require.Equal(t, 1, repo.gets)

	second, err := svc.Lookup(ctx, "SKU-001")
	require.NoError(t, err)
	require.Equal(t, first.Code, second.Code)
	require.Equal(t, 1, repo.gets)
}

func TestSaveInvalidatesCache(t *testing.T) {
	repo := &countingRepo{items: map[string]Item{
		"SKU-001": {Code: "SKU-001", Name: "Widget", UOM: "EA", Tracking: TrackingNone, Active: true},
	}}
	svc := NewService(repo, newCacheForTest(t), nil)
	ctx := context.Background()

	_, err := svc.Lookup(ctx, "SKU-001")
	require.NoError(t, err)

	_, err = svc.Save(ctx, Item{Code: "SKU-001", Name: "Widget v2", UOM: "EA", Tracking: TrackingNone, Active: true})
	require.NoError(t, err)

	updated, err := svc.Lookup(ctx, "SKU-001")
	require.NoError(t, err)
	require.Equal(t, "Widget v2", updated.Name)
	require.Equal(t, 2, repo.gets)
}

func TestLookupUnknownItem(t *testing.T) {
	svc := NewService(&countingRepo{items: map[string]Item{}}, newCacheForTest(t), nil)

	_, err := svc.Lookup(context.Background(), "SKU-404")
	require.ErrorIs(t, err, ErrItemNotFound)

	_, err = svc.Lookup(context.Background(), "   ")
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestLookupWithoutRedis(t *testing.T) {
	repo := &countingRepo{items: map[string]Item{
		"SKU-001": {Code: "SKU-001", Name: "Widget", UOM: "EA", Tracking: TrackingNone, Active: true},
	}}
	svc := NewService(repo, NewCache(nil, time.Minute), nil)

	it, err := svc.Lookup(context.Background(), "SKU-001")
	require.NoError(t, err)
	require.Equal(t, "Widget", it.Name)
}

func TestSaveValidation(t *testing.T) {
	svc := NewService(&countingRepo{items: map[string]Item{}}, NewCache(nil, time.Minute), nil)
	ctx := context.Background()

	_, err := svc.Save(ctx, Item{Code: "", Name: "No Code"})
	require.Error(t, err)

	_, err = svc.Save(ctx, Item{Code: "SKU-001", Name: ""})
	require.Error(t, err)

	_, err = svc.Save(ctx, Item{Code: "SKU-001", Name: "Widget", Tracking: TrackingMode("LOT")})
	require.Error(t, err)

	saved, err := svc.Save(ctx, Item{Code: "sku-001", Name: "Widget", Active: true})
	require.NoError(t, err)
	require.Equal(t, "SKU-001", saved.Code)
	require.Equal(t, "EA", saved.UOM)
	require.Equal(t, TrackingNone, saved.Tracking)
}

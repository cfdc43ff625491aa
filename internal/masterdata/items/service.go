package items

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Get(ctx context.Context, code string) (Item, error)
	List(ctx context.Context, filter ListFilter) ([]Item, error)
	Upsert(ctx context.Context, it Item) (Item, error)
}

// Service coordinates item master operations. Lookups go through a Redis
// cache with singleflight so scan bursts for the same item hit the database once.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Lookup resolves an item by code, serving from cache when possible.
func (s *Service) Lookup(ctx context.Context, code string) (Item, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Item{}, ErrItemNotFound
	}
	if it, ok, err := s.cache.Get(ctx, code); err == nil && ok {
		return it, nil
	} else if err != nil && s.logger != nil {
		s.logger.Warn("item cache read", slog.String("item_code", code), slog.Any("error", err))
	}
	v, err, _ := s.group.Do(code, func() (any, error) {
		it, err := s.repo.Get(ctx, code)
		if err != nil {
			return Item{}, err
		}
		if err := s.cache.Set(ctx, it); err != nil && s.logger != nil {
			s.logger.Warn("item cache write", slog.String("item_code", code), slog.Any("error", err))
		}
		return it, nil
	})
	if err != nil {
		return Item{}, err
	}
	return v.(Item), nil
}

// List returns items matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	return s.repo.List(ctx, filter)
}

// Save validates and upserts an item, invalidating any cached lookup.
func (s *Service) Save(ctx context.Context, it Item) (Item, error) {
	it.Code = strings.ToUpper(strings.TrimSpace(it.Code))
	it.Name = strings.TrimSpace(it.Name)
	if it.UOM == "" {
		it.UOM = "EA"
	}
	if it.Tracking == "" {
		it.Tracking = TrackingNone
	}
	if err := validate(it); err != nil {
		return Item{}, err
	}
	saved, err := s.repo.Upsert(ctx, it)
	if err != nil {
		return Item{}, err
	}
	if err := s.cache.Invalidate(ctx, saved.Code); err != nil && s.logger != nil {
		s.logger.Warn("item cache invalidate", slog.String("item_code", saved.Code), slog.Any("error", err))
	}
	return saved, nil
}

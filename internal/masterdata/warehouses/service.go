package warehouses

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Get(ctx context.Context, code string) (Warehouse, error)
	List(ctx context.Context) ([]Warehouse, error)
	Upsert(ctx context.Context, wh Warehouse) (Warehouse, error)
}

// Service coordinates warehouse reference data.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns the warehouse for code.
func (s *Service) Get(ctx context.Context, code string) (Warehouse, error) {
	return s.repo.Get(ctx, strings.TrimSpace(code))
}

// Exists reports whether a warehouse code is known.
func (s *Service) Exists(ctx context.Context, code string) (bool, error) {
	_, err := s.repo.Get(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, ErrWarehouseNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns all warehouses.
func (s *Service) List(ctx context.Context) ([]Warehouse, error) {
	return s.repo.List(ctx)
}

// Save validates and upserts a warehouse.
func (s *Service) Save(ctx context.Context, wh Warehouse) (Warehouse, error) {
	wh.Code = strings.ToUpper(strings.TrimSpace(wh.Code))
	wh.Name = strings.TrimSpace(wh.Name)
	if wh.Code == "" {
		return Warehouse{}, errors.New("warehouse code is required")
	}
	if wh.Name == "" {
		return Warehouse{}, errors.New("warehouse name is required")
	}
	return s.repo.Upsert(ctx, wh)
}

package medication

import (
	"context"
	"fmt"
)

type Service struct {
	repo CatalogRepository
}

// NewService returns a catalog service. A nil repo serves the built-in
// catalog only.
func NewService(repo CatalogRepository) *Service {
	return &Service{repo: repo}
}

// Catalog returns the tenant's active override rows, or the built-in list
// when the tenant has none.
func (s *Service) Catalog(ctx context.Context) ([]Entry, error) {
	if s.repo == nil {
		return DefaultCatalog(), nil
	}
	entries, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return DefaultCatalog(), nil
	}
	return entries, nil
}

func (s *Service) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := Find(catalog, key)
	return e, ok, nil
}

func (s *Service) Select(ctx context.Context, label string, newPatient bool) (Entry, bool, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return Entry{}, false, fmt.Errorf("load catalog: %w", err)
	}
	e, ok := Select(catalog, label, newPatient)
	return e, ok, nil
}

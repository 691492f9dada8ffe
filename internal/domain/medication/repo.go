package medication

import "context"

// CatalogRepository reads a tenant's catalog override.
type CatalogRepository interface {
	ListActive(ctx context.Context) ([]Entry, error)
}

package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	UpdateAddress(ctx context.Context, id uuid.UUID, a Address) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}

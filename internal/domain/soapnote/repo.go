package soapnote

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	GetByItem(ctx context.Context, kind string, sourceID uuid.UUID) (*Note, error)
	Create(ctx context.Context, n *Note) error
	// UpdateContent rewrites the body and origin of a DRAFT note.
	UpdateContent(ctx context.Context, n *Note) error
	Approve(ctx context.Context, id uuid.UUID, actor string, at time.Time) error
	Lock(ctx context.Context, id uuid.UUID, at time.Time) error
}

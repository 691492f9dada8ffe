package rxqueue

import (
	"context"
	"time"
)

type Repository interface {
	ListPending(ctx context.Context, f Filter, limit, offset int) ([]*Item, int, error)
	GetItem(ctx context.Context, ref ItemRef) (*Item, error)
	// Claim blocks until no other transaction holds ref and keeps it until
	// the surrounding transaction ends. Callers re-read the item after it.
	Claim(ctx context.Context, ref ItemRef) error
	CreatePrescription(ctx context.Context, p *Prescription) error
	// RecordAction appends to the audit trail. A terminal action fails with
	// ErrNotActive when the item already has one.
	RecordAction(ctx context.Context, a *ActionRecord) error
	History(ctx context.Context, ref ItemRef) ([]*ActionRecord, error)
	MarkSourceProcessed(ctx context.Context, ref ItemRef, at time.Time) error
	CreateOrder(ctx context.Context, o *Order) error
}

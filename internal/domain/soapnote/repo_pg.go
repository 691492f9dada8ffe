package soapnote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/rxdesk/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const noteCols = `id, item_kind, source_id, patient_id, subjective, objective, assessment, plan,
	status, origin, created_by, approved_by, approved_at, locked_at, created_at, updated_at`

func (r *repoPG) GetByItem(ctx context.Context, kind string, sourceID uuid.UUID) (*Note, error) {
	var n Note
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+noteCols+` FROM soap_note WHERE item_kind = $1 AND source_id = $2`,
		kind, sourceID).Scan(&n.ID, &n.ItemKind, &n.SourceID, &n.PatientID,
		&n.Subjective, &n.Objective, &n.Assessment, &n.Plan,
		&n.Status, &n.Origin, &n.CreatedBy, &n.ApprovedBy, &n.ApprovedAt, &n.LockedAt,
		&n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get soap note: %w", err)
	}
	return &n, nil
}

func (r *repoPG) Create(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO soap_note (id, item_kind, source_id, patient_id, subjective, objective,
			assessment, plan, status, origin, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (item_kind, source_id) DO NOTHING
		RETURNING created_at, updated_at`,
		n.ID, n.ItemKind, n.SourceID, n.PatientID, n.Subjective, n.Objective,
		n.Assessment, n.Plan, n.Status, n.Origin, n.CreatedBy,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("create soap note: %w", err)
	}
	return nil
}

func (r *repoPG) UpdateContent(ctx context.Context, n *Note) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE soap_note
		SET subjective = $2, objective = $3, assessment = $4, plan = $5, origin = $6, updated_at = NOW()
		WHERE id = $1 AND status = 'DRAFT'
		RETURNING updated_at`,
		n.ID, n.Subjective, n.Objective, n.Assessment, n.Plan, n.Origin,
	).Scan(&n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotEditable
	}
	if err != nil {
		return fmt.Errorf("update soap note: %w", err)
	}
	return nil
}

func (r *repoPG) Approve(ctx context.Context, id uuid.UUID, actor string, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE soap_note
		SET status = 'APPROVED', approved_by = $2, approved_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'DRAFT'`, id, actor, at)
	if err != nil {
		return fmt.Errorf("approve soap note: %w", err)
	}
	return nil
}

func (r *repoPG) Lock(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE soap_note
		SET status = 'LOCKED', locked_at = $2, updated_at = $2
		WHERE id = $1 AND status <> 'LOCKED'`, id, at)
	if err != nil {
		return fmt.Errorf("lock soap note: %w", err)
	}
	return nil
}

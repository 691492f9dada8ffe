package soapnote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	notes     Repository
	generator Generator
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(notes Repository, generator Generator, logger zerolog.Logger) *Service {
	if generator == nil {
		generator = TemplateGenerator{}
	}
	return &Service{notes: notes, generator: generator, logger: logger, now: time.Now}
}

// Get returns the note for an item, or nil when none exists.
func (s *Service) Get(ctx context.Context, kind string, sourceID uuid.UUID) (*Note, error) {
	n, err := s.notes.GetByItem(ctx, kind, sourceID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return n, err
}

func (s *Service) Create(ctx context.Context, kind string, sourceID, patientID uuid.UUID, c Content, actor string) (*Note, error) {
	n := &Note{
		Content:   c,
		ItemKind:  kind,
		SourceID:  sourceID,
		PatientID: patientID,
		Status:    StatusDraft,
		Origin:    OriginManual,
		CreatedBy: actor,
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Update replaces the body of a draft note. Approved and locked notes are
// rejected with ErrNotEditable.
func (s *Service) Update(ctx context.Context, kind string, sourceID uuid.UUID, c Content) (*Note, error) {
	n, err := s.notes.GetByItem(ctx, kind, sourceID)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusDraft {
		return nil, ErrNotEditable
	}
	n.Content = c
	n.Origin = OriginManual
	if err := s.notes.UpdateContent(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Generate drafts a note with the configured generator. An existing draft
// is overwritten; an approved or locked note is left alone.
func (s *Service) Generate(ctx context.Context, kind string, sourceID, patientID uuid.UUID, subj Subject, actor string) (*Note, error) {
	existing, err := s.Get(ctx, kind, sourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != StatusDraft {
		return nil, ErrNotEditable
	}

	c, err := s.generator.Generate(ctx, subj)
	if err != nil {
		return nil, fmt.Errorf("generate soap note: %w", err)
	}

	if existing != nil {
		existing.Content = c
		existing.Origin = OriginAI
		if err := s.notes.UpdateContent(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	n := &Note{
		Content:   c,
		ItemKind:  kind,
		SourceID:  sourceID,
		PatientID: patientID,
		Status:    StatusDraft,
		Origin:    OriginAI,
		CreatedBy: actor,
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, err
	}
	s.logger.Info().Str("item_kind", kind).Str("source_id", sourceID.String()).Msg("soap note drafted")
	return n, nil
}

// Approve moves a draft note to APPROVED. Approving an approved or locked
// note returns it unchanged.
func (s *Service) Approve(ctx context.Context, kind string, sourceID uuid.UUID, actor string) (*Note, error) {
	n, err := s.Get(ctx, kind, sourceID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrSoapNoteMissing
	}
	if n.Status != StatusDraft {
		return n, nil
	}

	at := s.now().UTC()
	if err := s.notes.Approve(ctx, n.ID, actor, at); err != nil {
		return nil, err
	}
	n.Status = StatusApproved
	n.ApprovedBy = &actor
	n.ApprovedAt = &at
	return n, nil
}

// Lock freezes a note after its prescription was submitted. Call it inside
// the submission transaction.
func (s *Service) Lock(ctx context.Context, n *Note) error {
	if n == nil || n.Status == StatusLocked {
		return nil
	}
	at := s.now().UTC()
	if err := s.notes.Lock(ctx, n.ID, at); err != nil {
		return err
	}
	n.Status = StatusLocked
	n.LockedAt = &at
	return nil
}

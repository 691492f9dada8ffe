package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	patients Repository
	logger   zerolog.Logger
}

func NewService(patients Repository, logger zerolog.Logger) *Service {
	return &Service{patients: patients, logger: logger}
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, params, limit, offset)
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if p.BiologicalSex != "" && NormalizeSex(p.BiologicalSex) == "" {
		return fmt.Errorf("biological_sex must be male or female")
	}
	return s.patients.Create(ctx, p)
}

// UpdateAddress stores a manually edited address. The state is normalised
// to its two-letter code; nothing else is rewritten.
func (s *Service) UpdateAddress(ctx context.Context, id uuid.UUID, a Address) (*Patient, error) {
	if !a.Complete() {
		return nil, fmt.Errorf("address1, city, state and zip are required")
	}
	code, ok := StateCode(a.State)
	if !ok {
		return nil, fmt.Errorf("unknown state: %s", a.State)
	}
	a.State = code
	if !isZipLike(a.Zip) {
		return nil, fmt.Errorf("invalid zip: %s", a.Zip)
	}

	if err := s.patients.UpdateAddress(ctx, id, a); err != nil {
		return nil, err
	}
	return s.patients.GetByID(ctx, id)
}

// ReconcileAddress runs the reconciler over the stored address and writes
// the result back when anything changed.
func (s *Service) ReconcileAddress(ctx context.Context, id uuid.UUID) (*Result, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	res := Reconcile(p.Address)
	if !res.Changed {
		return &res, nil
	}
	if err := s.patients.UpdateAddress(ctx, id, res.Address); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("patient_id", id.String()).
		Strs("fixes", res.Fixes).
		Msg("patient address reconciled")
	return &res, nil
}

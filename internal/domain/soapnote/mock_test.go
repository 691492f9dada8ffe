package soapnote

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	notes    map[string]*Note
	approves int
}

func newMockRepo() *mockRepo {
	return &mockRepo{notes: make(map[string]*Note)}
}

func key(kind string, id uuid.UUID) string { return kind + "/" + id.String() }

func (m *mockRepo) byID(id uuid.UUID) *Note {
	for _, n := range m.notes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (m *mockRepo) GetByItem(_ context.Context, kind string, sourceID uuid.UUID) (*Note, error) {
	n, ok := m.notes[key(kind, sourceID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, n *Note) error {
	k := key(n.ItemKind, n.SourceID)
	if _, ok := m.notes[k]; ok {
		return ErrExists
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	cp := *n
	m.notes[k] = &cp
	return nil
}

func (m *mockRepo) UpdateContent(_ context.Context, n *Note) error {
	stored := m.byID(n.ID)
	if stored == nil || stored.Status != StatusDraft {
		return ErrNotEditable
	}
	stored.Content = n.Content
	stored.Origin = n.Origin
	return nil
}

func (m *mockRepo) Approve(_ context.Context, id uuid.UUID, actor string, at time.Time) error {
	if n := m.byID(id); n != nil && n.Status == StatusDraft {
		n.Status = StatusApproved
		n.ApprovedBy = &actor
		n.ApprovedAt = &at
		m.approves++
	}
	return nil
}

func (m *mockRepo) Lock(_ context.Context, id uuid.UUID, at time.Time) error {
	if n := m.byID(id); n != nil {
		n.Status = StatusLocked
		n.LockedAt = &at
	}
	return nil
}

// stubResolver stands in for the queue. Approvals go to notes and are
// appended to approvals when both are set.
type stubResolver struct {
	patientID uuid.UUID
	subject   Subject
	err       error
	notes     *Service
	approvals *[]string
}

func (s stubResolver) ResolveSubject(_ context.Context, _ string, _ uuid.UUID) (uuid.UUID, Subject, error) {
	return s.patientID, s.subject, s.err
}

func (s stubResolver) ApproveNote(ctx context.Context, kind string, sourceID uuid.UUID, actorID string) (*Note, error) {
	if s.err != nil {
		return nil, s.err
	}
	n, err := s.notes.Approve(ctx, kind, sourceID, actorID)
	if err != nil {
		return nil, err
	}
	if s.approvals != nil {
		*s.approvals = append(*s.approvals, kind+":"+sourceID.String()+":"+actorID)
	}
	return n, nil
}

package rxqueue

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/rxdesk/internal/domain/medication"
	"github.com/telehealth/rxdesk/internal/domain/patient"
	"github.com/telehealth/rxdesk/internal/domain/soapnote"
	"github.com/telehealth/rxdesk/internal/platform/pharmacy"
	"github.com/telehealth/rxdesk/internal/platform/webhook"
)

type mockRepo struct {
	items         map[ItemRef]*Item
	actions       []*ActionRecord
	prescriptions []*Prescription
	orders        []*Order
	processed     map[ItemRef]time.Time
	markErr       error
	createRxErr   error
	claims        int
	onClaim       func(ref ItemRef)
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[ItemRef]*Item), processed: make(map[ItemRef]time.Time)}
}

func (m *mockRepo) terminal(ref ItemRef) bool {
	for _, a := range m.actions {
		if a.Kind == ref.Kind && a.SourceID == ref.SourceID && a.Action.Terminal() {
			return true
		}
	}
	return false
}

func (m *mockRepo) status(it *Item) *Item {
	cp := *it
	ref := it.Ref()
	for _, a := range m.actions {
		if a.Kind == ref.Kind && a.SourceID == ref.SourceID && a.Action.Terminal() {
			cp.Status = string(a.Action)
		}
	}
	return &cp
}

func (m *mockRepo) ListPending(_ context.Context, f Filter, limit, offset int) ([]*Item, int, error) {
	var out []*Item
	for _, it := range m.items {
		it = m.status(it)
		if !it.Active() {
			continue
		}
		if f.Kind != "" && it.Kind != f.Kind {
			continue
		}
		if f.ClinicID != nil && (it.Clinic == nil || it.Clinic.ID != *f.ClinicID) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(it.Patient.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) GetItem(_ context.Context, ref ItemRef) (*Item, error) {
	it, ok := m.items[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return m.status(it), nil
}

func (m *mockRepo) Claim(_ context.Context, ref ItemRef) error {
	m.claims++
	if m.onClaim != nil {
		m.onClaim(ref)
	}
	return nil
}

func (m *mockRepo) CreatePrescription(_ context.Context, p *Prescription) error {
	if m.createRxErr != nil {
		return m.createRxErr
	}
	p.ID = uuid.New()
	p.SubmittedAt = time.Now()
	m.prescriptions = append(m.prescriptions, p)
	return nil
}

func (m *mockRepo) RecordAction(_ context.Context, a *ActionRecord) error {
	if a.Action.Terminal() && m.terminal(ItemRef{Kind: a.Kind, SourceID: a.SourceID}) {
		return ErrNotActive
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.actions = append(m.actions, a)
	return nil
}

func (m *mockRepo) History(_ context.Context, ref ItemRef) ([]*ActionRecord, error) {
	var out []*ActionRecord
	for _, a := range m.actions {
		if a.Kind == ref.Kind && a.SourceID == ref.SourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) MarkSourceProcessed(_ context.Context, ref ItemRef, at time.Time) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.processed[ref] = at
	return nil
}

func (m *mockRepo) CreateOrder(_ context.Context, o *Order) error {
	o.ID = uuid.New()
	o.QueuedAt = time.Now()
	m.orders = append(m.orders, o)
	m.items[ItemRef{Kind: KindOrder, SourceID: o.ID}] = &Item{
		Kind: KindOrder, SourceID: o.ID, TreatmentLabel: o.TreatmentLabel, PlanMonths: o.PlanMonths,
		Patient: patient.Summary{ID: o.PatientID}, QueuedAt: o.QueuedAt, Status: StatusPending,
	}
	return nil
}

type mockPatients map[uuid.UUID]*patient.Patient

func (m mockPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type mockNotes struct {
	notes map[ItemRef]*soapnote.Note
	locks int
}

func (m *mockNotes) Get(_ context.Context, kind string, sourceID uuid.UUID) (*soapnote.Note, error) {
	n, ok := m.notes[ItemRef{Kind: Kind(kind), SourceID: sourceID}]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *mockNotes) Approve(_ context.Context, kind string, sourceID uuid.UUID, actor string) (*soapnote.Note, error) {
	n, ok := m.notes[ItemRef{Kind: Kind(kind), SourceID: sourceID}]
	if !ok {
		return nil, soapnote.ErrSoapNoteMissing
	}
	if n.Status == soapnote.StatusDraft {
		n.Status = soapnote.StatusApproved
		n.ApprovedBy = &actor
	}
	cp := *n
	return &cp, nil
}

func (m *mockNotes) Lock(_ context.Context, n *soapnote.Note) error {
	if n == nil {
		return nil
	}
	for _, stored := range m.notes {
		if stored.ID == n.ID {
			stored.Status = soapnote.StatusLocked
			m.locks++
		}
	}
	n.Status = soapnote.StatusLocked
	return nil
}

type staticCatalog []medication.Entry

func (s staticCatalog) Catalog(context.Context) ([]medication.Entry, error) { return s, nil }

type fakeRouter struct {
	orders []pharmacy.Order
	err    error
	// claimed reports whether the item was claimed when the order went out.
	claimed   func() bool
	unclaimed int
}

func (f *fakeRouter) Submit(_ context.Context, o pharmacy.Order) (*pharmacy.Result, error) {
	if f.claimed != nil && !f.claimed() {
		f.unclaimed++
	}
	if f.err != nil {
		return nil, f.err
	}
	f.orders = append(f.orders, o)
	return &pharmacy.Result{OrderID: "PO-100", Status: "received"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []webhook.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e webhook.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

// failingTx runs nothing and reports err.
type failingTx struct{ err error }

func (f failingTx) InTx(context.Context, func(context.Context) error) error { return f.err }

var errBoom = errors.New("boom")

type fixture struct {
	svc       *Service
	repo      *mockRepo
	patients  mockPatients
	notes     *mockNotes
	router    *fakeRouter
	publisher *recordingPublisher
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		patients:  mockPatients{},
		notes:     &mockNotes{notes: map[ItemRef]*soapnote.Note{}},
		router:    &fakeRouter{},
		publisher: &recordingPublisher{},
	}
	f.svc = NewService(f.repo, Deps{
		Patients:  f.patients,
		Notes:     f.notes,
		Catalog:   staticCatalog(medication.DefaultCatalog()),
		Pharmacy:  f.router,
		Publisher: f.publisher,
		Logger:    zerolog.Nop(),
	})
	return f
}

// seed adds a patient with a complete address and a pending item.
func (f *fixture) seed(kind Kind, label string, planMonths int) ItemRef {
	dob := time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC)
	p := &patient.Patient{
		ID:            uuid.New(),
		FirstName:     "Ana",
		LastName:      "Lopez",
		Email:         "ana@example.com",
		DateOfBirth:   &dob,
		BiologicalSex: "female",
		Address:       patient.Address{Address1: "12 Oak St", City: "Austin", State: "TX", Zip: "78701"},
	}
	f.patients[p.ID] = p

	ref := ItemRef{Kind: kind, SourceID: uuid.New()}
	f.repo.items[ref] = &Item{
		Kind:           kind,
		SourceID:       ref.SourceID,
		Patient:        p.Summary(),
		TreatmentLabel: label,
		PlanMonths:     planMonths,
		AmountCents:    29900,
		SoapStatus:     soapnote.StatusMissing,
		QueuedAt:       time.Now().Add(-time.Duration(len(f.repo.items)+1) * time.Hour),
		Status:         StatusPending,
	}
	return ref
}

func (f *fixture) note(ref ItemRef, status soapnote.Status) {
	f.notes.notes[ref] = &soapnote.Note{
		ID: uuid.New(), ItemKind: string(ref.Kind), SourceID: ref.SourceID, Status: status,
	}
}

func validForm() Form {
	return Form{
		Medications: []MedicationLine{
			{Key: "tirzepatide-2.5", Sig: "Inject 2.5mg weekly", Quantity: 1, Refills: 2},
		},
		PharmacyGender: "F",
		Address:        patient.Address{Address1: "12 Oak St", City: "Austin", State: "TX", Zip: "78701"},
	}
}

package rxqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/telehealth/rxdesk/internal/domain/medication"
	"github.com/telehealth/rxdesk/internal/domain/patient"
	"github.com/telehealth/rxdesk/internal/domain/soapnote"
	"github.com/telehealth/rxdesk/internal/platform/db"
	"github.com/telehealth/rxdesk/internal/platform/pharmacy"
	"github.com/telehealth/rxdesk/internal/platform/telemetry"
	"github.com/telehealth/rxdesk/internal/platform/webhook"
)

type PatientReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type NoteStore interface {
	Get(ctx context.Context, kind string, sourceID uuid.UUID) (*soapnote.Note, error)
	Approve(ctx context.Context, kind string, sourceID uuid.UUID, actor string) (*soapnote.Note, error)
	Lock(ctx context.Context, n *soapnote.Note) error
}

type CatalogSource interface {
	Catalog(ctx context.Context) ([]medication.Entry, error)
}

// Deps are the collaborators of the queue service. Tx, Publisher and
// Metrics may be left nil.
type Deps struct {
	Patients  PatientReader
	Notes     NoteStore
	Catalog   CatalogSource
	Pharmacy  pharmacy.Router
	Publisher webhook.Publisher
	Tx        db.TxRunner
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
}

type Service struct {
	repo Repository
	Deps
	now func() time.Time
}

func NewService(repo Repository, deps Deps) *Service {
	if deps.Tx == nil {
		deps.Tx = db.NoopTxRunner{}
	}
	if deps.Publisher == nil {
		deps.Publisher = webhook.Nop{}
	}
	return &Service{repo: repo, Deps: deps, now: time.Now}
}

// Actor is the caller performing a queue action.
type Actor struct {
	ID         string
	CanApprove bool
}

func (s *Service) ListPending(ctx context.Context, f Filter, limit, offset int) ([]*Item, int, error) {
	return s.repo.ListPending(ctx, f, limit, offset)
}

func (s *Service) GetItem(ctx context.Context, ref ItemRef) (*Item, error) {
	return s.repo.GetItem(ctx, ref)
}

func (s *Service) Details(ctx context.Context, ref ItemRef) (*Details, error) {
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	p, err := s.Patients.GetByID(ctx, item.Patient.ID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	note, err := s.Notes.Get(ctx, string(ref.Kind), ref.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load soap note: %w", err)
	}
	return &Details{Item: item, Patient: p, SoapNote: note}, nil
}

func (s *Service) History(ctx context.Context, ref ItemRef) ([]*ActionRecord, error) {
	if _, err := s.repo.GetItem(ctx, ref); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, ref)
}

// Prefill is a suggested form for an item.
type Prefill struct {
	Form           Form     `json:"form"`
	MedicationHit  bool     `json:"medication_matched"`
	NewPatient     bool     `json:"new_patient"`
	AddressFixes   []string `json:"address_fixes"`
	TreatmentLabel string   `json:"treatment_label"`
}

// Prefill suggests a form: the reconciled address, pharmacy gender from
// biological sex, and the auto-selected medication with refills covering
// the rest of the plan. Nothing is persisted.
func (s *Service) Prefill(ctx context.Context, ref ItemRef) (*Prefill, error) {
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	p, err := s.Patients.GetByID(ctx, item.Patient.ID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	catalog, err := s.Catalog.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	rec := patient.Reconcile(p.Address)
	out := &Prefill{
		Form: Form{
			ShippingMethod: ShippingStandard,
			PharmacyGender: p.PharmacyGender(),
			Address:        rec.Address,
		},
		NewPatient:     isNewPatient(item, p),
		AddressFixes:   rec.Fixes,
		TreatmentLabel: item.TreatmentLabel,
	}

	if e, ok := medication.Select(catalog, item.TreatmentLabel, out.NewPatient); ok {
		out.MedicationHit = true
		out.Form.Medications = []MedicationLine{{
			Key:      e.Key,
			Sig:      e.DefaultSig,
			Quantity: e.DefaultQuantity,
			Refills:  prefillRefills(item.PlanMonths),
		}}
	}
	return out, nil
}

// isNewPatient treats refills and patients reporting prior GLP-1 therapy as
// continuing care.
func isNewPatient(item *Item, p *patient.Patient) bool {
	return item.Kind != KindRefill && !p.GLP1History
}

// SubmitRequest is the body of a submission.
type SubmitRequest struct {
	Form        Form `json:"form"`
	ApproveNote bool `json:"approve_note"`
}

// Submission is the outcome of a successful submit.
type Submission struct {
	Prescription *Prescription `json:"prescription"`
	SoapStatus   string        `json:"soap_status"`
}

// Submit runs the prescribing pipeline for one item. Inside one transaction
// the item is claimed, the pharmacy is called, and the prescription row,
// the audit row and the note lock are written. Stamping the source record
// and emitting the webhook are best effort.
func (s *Service) Submit(ctx context.Context, ref ItemRef, req SubmitRequest, actor Actor) (*Submission, error) {
	ctx, span := telemetry.StartSpan(ctx, "rxqueue.submit",
		attribute.String("rx.kind", string(ref.Kind)),
		attribute.String("rx.source_id", ref.SourceID.String()))
	defer span.End()

	sub, err := s.submit(ctx, ref, req, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sub, nil
}

func (s *Service) submit(ctx context.Context, ref ItemRef, req SubmitRequest, actor Actor) (*Submission, error) {
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !item.Active() {
		return nil, ErrNotActive
	}

	note, err := s.Notes.Get(ctx, string(ref.Kind), ref.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load soap note: %w", err)
	}
	if req.ApproveNote && soapnote.StatusOf(note) == soapnote.StatusDraft {
		if note, err = s.approve(ctx, ref, actor); err != nil {
			return nil, err
		}
	}
	if err := soapnote.CheckGate(note); err != nil {
		return nil, err
	}

	form, err := ValidateForm(req.Form)
	if err != nil {
		return nil, err
	}

	catalog, err := s.Catalog.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	lines, err := resolveLines(catalog, form.Medications)
	if err != nil {
		return nil, err
	}

	p, err := s.Patients.GetByID(ctx, item.Patient.ID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	order := buildOrder(item, p, form, lines, actor.ID)
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	rx := &Prescription{
		Kind:       ref.Kind,
		SourceID:   ref.SourceID,
		PatientID:  item.Patient.ID,
		ProviderID: actor.ID,
		Payload:    payload,
		Status:     "submitted",
	}

	// The item is claimed before the pharmacy sees the order so a second
	// submit waits here and then finds the item closed.
	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.claim(ctx, ref); err != nil {
			return err
		}
		res, err := s.Pharmacy.Submit(ctx, order)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPharmacy, err)
		}
		rx.PharmacyOrderID = res.OrderID
		if err := s.repo.CreatePrescription(ctx, rx); err != nil {
			return err
		}
		if err := s.repo.RecordAction(ctx, &ActionRecord{
			Kind: ref.Kind, SourceID: ref.SourceID, Action: ActionSubmitted,
			ActorID: actor.ID, Note: "pharmacy order " + res.OrderID,
		}); err != nil {
			return err
		}
		return s.Notes.Lock(ctx, note)
	})
	if err != nil {
		if rx.PharmacyOrderID != "" {
			s.Logger.Error().Err(err).Str("item", ref.String()).Str("pharmacy_order_id", rx.PharmacyOrderID).
				Msg("pharmacy accepted order but local record failed")
		}
		if errors.Is(err, ErrNotActive) || errors.Is(err, ErrPharmacy) {
			return nil, err
		}
		return nil, fmt.Errorf("record submission: %w", err)
	}

	s.Metrics.QueueAction(string(ref.Kind), string(ActionSubmitted))
	s.markProcessed(ctx, ref)
	s.publish(ctx, webhook.EventPrescriptionSubmitted, ref, actor, map[string]interface{}{
		"prescription_id":   rx.ID,
		"pharmacy_order_id": rx.PharmacyOrderID,
		"patient_id":        rx.PatientID,
	})

	return &Submission{Prescription: rx, SoapStatus: string(soapnote.StatusOf(note))}, nil
}

// claim locks ref for the rest of the transaction and re-checks that it is
// still pending.
func (s *Service) claim(ctx context.Context, ref ItemRef) error {
	if err := s.repo.Claim(ctx, ref); err != nil {
		return err
	}
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return err
	}
	if !item.Active() {
		return ErrNotActive
	}
	return nil
}

func (s *Service) approve(ctx context.Context, ref ItemRef, actor Actor) (*soapnote.Note, error) {
	if !actor.CanApprove {
		return nil, ErrApprovalForbidden
	}
	note, err := s.Notes.Approve(ctx, string(ref.Kind), ref.SourceID, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("approve soap note: %w", err)
	}
	if err := s.repo.RecordAction(ctx, &ActionRecord{
		Kind: ref.Kind, SourceID: ref.SourceID, Action: ActionNoteApproved, ActorID: actor.ID,
	}); err != nil {
		return nil, err
	}
	return note, nil
}

// resolveLines looks every line key up in the catalog.
func resolveLines(catalog []medication.Entry, lines []MedicationLine) ([]pharmacy.Line, error) {
	verr := &ValidationError{}
	out := make([]pharmacy.Line, 0, len(lines))
	for _, l := range lines {
		e, ok := medication.Find(catalog, l.Key)
		if !ok {
			verr.add(fmt.Sprintf("medications[%d].key", l.pos), fmt.Sprintf("unknown medication %q", l.Key))
			continue
		}
		out = append(out, pharmacy.Line{
			ProductKey: e.Key,
			Name:       e.Label(),
			Sig:        l.Sig,
			Quantity:   l.Quantity,
			Refills:    l.Refills,
		})
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func buildOrder(item *Item, p *patient.Patient, f Form, lines []pharmacy.Line, providerID string) pharmacy.Order {
	o := pharmacy.Order{
		ReferenceID: item.Ref().String(),
		ProviderID:  providerID,
		Patient: pharmacy.Patient{
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Gender:    f.PharmacyGender,
			Email:     p.Email,
			Phone:     p.Phone,
			Allergies: p.Allergies,
		},
		ShipTo: pharmacy.Address{
			Address1: f.Address.Address1,
			Address2: f.Address.Address2,
			City:     f.Address.City,
			State:    f.Address.State,
			Zip:      f.Address.Zip,
		},
		ShippingMethod: f.ShippingMethod,
		Lines:          lines,
	}
	if p.DateOfBirth != nil {
		o.Patient.DateOfBirth = p.DateOfBirth.Format("2006-01-02")
	}
	if item.Clinic != nil {
		o.ClinicCode = item.Clinic.RoutingCode
	}
	return o
}

// MarkProcessed closes an item without a prescription from this service,
// e.g. when it was handled by phone.
func (s *Service) MarkProcessed(ctx context.Context, ref ItemRef, actor Actor, note string) error {
	return s.close(ctx, ref, actor, ActionProcessed, strings.TrimSpace(note), webhook.EventQueueItemProcessed)
}

// Decline closes an item without prescribing. A reason is required.
func (s *Service) Decline(ctx context.Context, ref ItemRef, actor Actor, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &ValidationError{Errors: []FieldError{{Field: "reason", Message: "a reason is required to decline"}}}
	}
	return s.close(ctx, ref, actor, ActionDeclined, reason, webhook.EventPrescriptionDeclined)
}

func (s *Service) close(ctx context.Context, ref ItemRef, actor Actor, action Action, note, event string) error {
	item, err := s.repo.GetItem(ctx, ref)
	if err != nil {
		return err
	}
	if !item.Active() {
		return ErrNotActive
	}

	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.claim(ctx, ref); err != nil {
			return err
		}
		if err := s.repo.RecordAction(ctx, &ActionRecord{
			Kind: ref.Kind, SourceID: ref.SourceID, Action: action, ActorID: actor.ID, Note: note,
		}); err != nil {
			return err
		}
		return s.repo.MarkSourceProcessed(ctx, ref, s.now().UTC())
	})
	if err != nil {
		return err
	}

	s.Metrics.QueueAction(string(ref.Kind), string(action))
	s.publish(ctx, event, ref, actor, map[string]interface{}{"note": note})
	return nil
}

// OrderRequest is the body of an admin enqueue.
type OrderRequest struct {
	PatientID      uuid.UUID `json:"patient_id"`
	TreatmentLabel string    `json:"treatment_label"`
	PlanMonths     int       `json:"plan_months"`
	AmountCents    int64     `json:"amount_cents"`
	Notes          string    `json:"notes"`
}

func (s *Service) EnqueueOrder(ctx context.Context, req OrderRequest, actor Actor) (*Order, error) {
	verr := &ValidationError{}
	if req.PatientID == uuid.Nil {
		verr.add("patient_id", "patient_id is required")
	}
	if strings.TrimSpace(req.TreatmentLabel) == "" {
		verr.add("treatment_label", "treatment_label is required")
	}
	if req.PlanMonths == 0 {
		req.PlanMonths = 1
	}
	if req.PlanMonths < 1 || req.PlanMonths > 12 {
		verr.add("plan_months", "plan_months must be between 1 and 12")
	}
	if req.AmountCents < 0 {
		verr.add("amount_cents", "amount_cents must not be negative")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	if _, err := s.Patients.GetByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, &ValidationError{Errors: []FieldError{{Field: "patient_id", Message: "patient not found"}}}
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	o := &Order{
		PatientID:      req.PatientID,
		TreatmentLabel: strings.TrimSpace(req.TreatmentLabel),
		PlanMonths:     req.PlanMonths,
		AmountCents:    req.AmountCents,
		Notes:          strings.TrimSpace(req.Notes),
		QueuedBy:       actor.ID,
	}
	err := s.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateOrder(ctx, o); err != nil {
			return err
		}
		return s.repo.RecordAction(ctx, &ActionRecord{
			Kind: KindOrder, SourceID: o.ID, Action: ActionQueued, ActorID: actor.ID, Note: o.Notes,
		})
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.QueueAction(string(KindOrder), string(ActionQueued))
	return o, nil
}

// ResolveSubject gives the SOAP note endpoints the patient and clinical
// context behind a queue item.
// ApproveNote approves the draft note of a queue item and records the
// approval in the item's history. Its route admits only approving roles.
// An already approved or locked note is returned unchanged.
func (s *Service) ApproveNote(ctx context.Context, kind string, sourceID uuid.UUID, actorID string) (*soapnote.Note, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", soapnote.ErrItemNotFound, err)
	}
	ref := ItemRef{Kind: k, SourceID: sourceID}
	if _, err := s.repo.GetItem(ctx, ref); errors.Is(err, ErrNotFound) {
		return nil, soapnote.ErrItemNotFound
	} else if err != nil {
		return nil, err
	}

	var note *soapnote.Note
	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.Notes.Get(ctx, kind, sourceID)
		if err != nil {
			return fmt.Errorf("load soap note: %w", err)
		}
		if current == nil {
			return soapnote.ErrSoapNoteMissing
		}
		if current.Status != soapnote.StatusDraft {
			note = current
			return nil
		}
		note, err = s.approve(ctx, ref, Actor{ID: actorID, CanApprove: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) ResolveSubject(ctx context.Context, kind string, sourceID uuid.UUID) (uuid.UUID, soapnote.Subject, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return uuid.Nil, soapnote.Subject{}, fmt.Errorf("%w: %w", soapnote.ErrItemNotFound, err)
	}
	item, err := s.repo.GetItem(ctx, ItemRef{Kind: k, SourceID: sourceID})
	if errors.Is(err, ErrNotFound) {
		return uuid.Nil, soapnote.Subject{}, soapnote.ErrItemNotFound
	}
	if err != nil {
		return uuid.Nil, soapnote.Subject{}, err
	}
	p, err := s.Patients.GetByID(ctx, item.Patient.ID)
	if err != nil {
		return uuid.Nil, soapnote.Subject{}, fmt.Errorf("load patient: %w", err)
	}

	subj := soapnote.Subject{
		PatientName:        p.FullName(),
		BiologicalSex:      p.BiologicalSex,
		TreatmentLabel:     item.TreatmentLabel,
		PlanMonths:         item.PlanMonths,
		Allergies:          p.Allergies,
		Contraindications:  p.Contraindications,
		CurrentMedications: p.CurrentMedications,
		GLP1History:        p.GLP1History,
		Intake:             p.IntakeAnswers(),
	}
	if p.DateOfBirth != nil {
		subj.Age = ageAt(*p.DateOfBirth, s.now())
	}
	return p.ID, subj, nil
}

func ageAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

func (s *Service) markProcessed(ctx context.Context, ref ItemRef) {
	if err := s.repo.MarkSourceProcessed(ctx, ref, s.now().UTC()); err != nil {
		s.Logger.Warn().Err(err).Str("item", ref.String()).Msg("could not stamp source record as processed")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, ref ItemRef, actor Actor, data map[string]interface{}) {
	raw, _ := json.Marshal(data)
	err := s.Publisher.Publish(ctx, webhook.Event{
		Type:     eventType,
		TenantID: db.TenantFromContext(ctx),
		ItemKind: string(ref.Kind),
		SourceID: ref.SourceID.String(),
		Actor:    actor.ID,
		Data:     raw,
	})
	if err != nil {
		s.Logger.Warn().Err(err).Str("event", eventType).Str("item", ref.String()).Msg("webhook publish failed")
	}
}

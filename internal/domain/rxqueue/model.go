package rxqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/rxdesk/internal/domain/patient"
	"github.com/telehealth/rxdesk/internal/domain/soapnote"
)

// Kind names the source table a queue item comes from.
type Kind string

const (
	KindInvoice Kind = "invoice"
	KindRefill  Kind = "refill"
	KindOrder   Kind = "order"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindInvoice, KindRefill, KindOrder:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k Kind) sourceTable() string {
	switch k {
	case KindInvoice:
		return "invoice"
	case KindRefill:
		return "refill_request"
	default:
		return "admin_order"
	}
}

// ItemRef identifies a queue item.
type ItemRef struct {
	Kind     Kind      `json:"kind"`
	SourceID uuid.UUID `json:"source_id"`
}

func (r ItemRef) String() string { return string(r.Kind) + ":" + r.SourceID.String() }

var (
	ErrNotFound          = errors.New("queue item not found")
	ErrInvalidKind       = errors.New("invalid queue item kind")
	ErrNotActive         = errors.New("queue item is no longer pending")
	ErrApprovalForbidden = errors.New("only providers can approve SOAP notes")
	ErrPharmacy          = errors.New("pharmacy submission failed")
)

// Action is a row in the queue_action audit trail.
type Action string

const (
	ActionSubmitted    Action = "submitted"
	ActionProcessed    Action = "processed"
	ActionDeclined     Action = "declined"
	ActionNoteApproved Action = "note_approved"
	ActionQueued       Action = "queued"
)

// Terminal reports whether the action removes an item from the queue.
func (a Action) Terminal() bool {
	return a == ActionSubmitted || a == ActionProcessed || a == ActionDeclined
}

type ActionRecord struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	SourceID  uuid.UUID `json:"source_id"`
	Action    Action    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Clinic struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	RoutingCode string    `json:"routing_code"`
}

// Item statuses reported by GetItem.
const (
	StatusPending   = "pending"
	StatusDispensed = "dispensed"
	StatusClosed    = "closed"
)

// Item is one entry in the prescription queue.
type Item struct {
	Kind           Kind            `json:"kind"`
	SourceID       uuid.UUID       `json:"source_id"`
	Patient        patient.Summary `json:"patient"`
	TreatmentLabel string          `json:"treatment_label"`
	PlanMonths     int             `json:"plan_months"`
	AmountCents    int64           `json:"amount_cents"`
	SoapStatus     soapnote.Status `json:"soap_status"`
	Clinic         *Clinic         `json:"clinic,omitempty"`
	QueuedAt       time.Time       `json:"queued_at"`
	Status         string          `json:"status"`
}

func (it *Item) Ref() ItemRef { return ItemRef{Kind: it.Kind, SourceID: it.SourceID} }

func (it *Item) Active() bool { return it.Status == StatusPending }

// Filter narrows ListPending.
type Filter struct {
	Kind     Kind
	ClinicID *uuid.UUID
	Search   string
}

// Details is everything a provider sees when opening an item.
type Details struct {
	Item     *Item            `json:"item"`
	Patient  *patient.Patient `json:"patient"`
	SoapNote *soapnote.Note   `json:"soap_note,omitempty"`
}

type Prescription struct {
	ID              uuid.UUID       `json:"id"`
	Kind            Kind            `json:"kind"`
	SourceID        uuid.UUID       `json:"source_id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	ProviderID      string          `json:"provider_id"`
	PharmacyOrderID string          `json:"pharmacy_order_id"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	SubmittedAt     time.Time       `json:"submitted_at"`
}

// Order is an admin-queued prescription request.
type Order struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	TreatmentLabel string    `json:"treatment_label"`
	PlanMonths     int       `json:"plan_months"`
	AmountCents    int64     `json:"amount_cents"`
	Notes          string    `json:"notes"`
	QueuedBy       string    `json:"queued_by"`
	QueuedAt       time.Time `json:"queued_at"`
}

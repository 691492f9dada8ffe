package soapnote

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusMissing  Status = "MISSING"
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusLocked   Status = "LOCKED"
)

type Origin string

const (
	OriginAI     Origin = "ai"
	OriginManual Origin = "manual"
)

var (
	ErrNotFound            = errors.New("soap note not found")
	ErrSoapNoteMissing     = errors.New("a SOAP note is required before prescribing")
	ErrSoapNoteNotApproved = errors.New("the SOAP note must be approved before prescribing")
	ErrExists              = errors.New("a SOAP note already exists for this item")
	ErrNotEditable         = errors.New("only draft SOAP notes can be edited")
)

// Content is the clinical body of a note.
type Content struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

func (c Content) Empty() bool {
	return c.Subjective == "" && c.Objective == "" && c.Assessment == "" && c.Plan == ""
}

// Note is the SOAP note attached to one queue item.
type Note struct {
	Content

	ID         uuid.UUID  `json:"id"`
	ItemKind   string     `json:"item_kind"`
	SourceID   uuid.UUID  `json:"source_id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	Status     Status     `json:"status"`
	Origin     Origin     `json:"origin"`
	CreatedBy  string     `json:"created_by"`
	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// StatusOf returns the note's status, or MISSING for nil.
func StatusOf(n *Note) Status {
	if n == nil {
		return StatusMissing
	}
	return n.Status
}

// CheckGate reports whether a prescription may be submitted against n.
func CheckGate(n *Note) error {
	switch StatusOf(n) {
	case StatusApproved, StatusLocked:
		return nil
	case StatusMissing:
		return ErrSoapNoteMissing
	default:
		return ErrSoapNoteNotApproved
	}
}

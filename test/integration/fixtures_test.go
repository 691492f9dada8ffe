//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telehealth/rxdesk/internal/domain/patient"
)

func createClinic(t *testing.T, ctx context.Context, name, code string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	exec(t, ctx, `INSERT INTO clinic (id, name, routing_code) VALUES ($1, $2, $3)`, id, name, code)
	return id
}

func createPatient(t *testing.T, ctx context.Context, first, last string, clinicID *uuid.UUID) *patient.Patient {
	t.Helper()
	dob := time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC)
	p := &patient.Patient{
		ClinicID:      clinicID,
		FirstName:     first,
		LastName:      last,
		Email:         first + "@example.com",
		DateOfBirth:   &dob,
		BiologicalSex: "female",
		Address:       patient.Address{Address1: "12 Oak St", City: "Austin", State: "TX", Zip: "78701"},
	}
	if err := patient.NewRepoPG(globalPool).Create(ctx, p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func createPaidInvoice(t *testing.T, ctx context.Context, patientID uuid.UUID, label string, paidAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	exec(t, ctx, `INSERT INTO invoice (id, patient_id, treatment_label, plan_months, amount_cents, status, paid_at)
		VALUES ($1, $2, $3, 3, 29900, 'paid', $4)`, id, patientID, label, paidAt)
	return id
}

func createRefill(t *testing.T, ctx context.Context, patientID uuid.UUID, label string, requestedAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	exec(t, ctx, `INSERT INTO refill_request (id, patient_id, treatment_label, requested_at)
		VALUES ($1, $2, $3, $4)`, id, patientID, label, requestedAt)
	return id
}

package patient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Address is a US shipping address as stored on the patient record.
type Address struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
}

// Complete reports whether every field a pharmacy needs to ship is present.
func (a Address) Complete() bool {
	return strings.TrimSpace(a.Address1) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.State) != "" &&
		strings.TrimSpace(a.Zip) != ""
}

type Patient struct {
	ID                 uuid.UUID       `json:"id"`
	ClinicID           *uuid.UUID      `json:"clinic_id,omitempty"`
	FirstName          string          `json:"first_name"`
	LastName           string          `json:"last_name"`
	Email              string          `json:"email"`
	Phone              string          `json:"phone"`
	DateOfBirth        *time.Time      `json:"date_of_birth,omitempty"`
	BiologicalSex      string          `json:"biological_sex"`
	Address            Address         `json:"address"`
	Allergies          string          `json:"allergies"`
	Contraindications  string          `json:"contraindications"`
	CurrentMedications string          `json:"current_medications"`
	GLP1History        bool            `json:"glp1_history"`
	Intake             json.RawMessage `json:"intake"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// PharmacyGender maps the recorded biological sex onto the M/F value the
// pharmacy router accepts, or "" when it cannot.
func (p *Patient) PharmacyGender() string {
	return NormalizeSex(p.BiologicalSex)
}

// IntakeAnswers decodes the intake JSON object. A missing or malformed
// intake yields an empty map.
func (p *Patient) IntakeAnswers() map[string]interface{} {
	out := map[string]interface{}{}
	if len(p.Intake) > 0 {
		_ = json.Unmarshal(p.Intake, &out)
	}
	return out
}

// NormalizeSex accepts M, F, male or female in any case.
func NormalizeSex(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male":
		return "M"
	case "f", "female":
		return "F"
	}
	return ""
}

// Summary is the patient slice shown on a queue item.
type Summary struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	State       string     `json:"state"`
}

func (p *Patient) Summary() Summary {
	return Summary{
		ID:          p.ID,
		Name:        p.FullName(),
		Email:       p.Email,
		Phone:       p.Phone,
		DateOfBirth: p.DateOfBirth,
		State:       p.Address.State,
	}
}

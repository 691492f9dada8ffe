package rxqueue

import (
	"fmt"
	"strings"

	"github.com/telehealth/rxdesk/internal/domain/patient"
)

const maxRefills = 11

const (
	ShippingStandard  = "standard"
	ShippingTwoDay    = "two_day"
	ShippingOvernight = "overnight"
)

type MedicationLine struct {
	Key      string `json:"key"`
	Sig      string `json:"sig"`
	Quantity int    `json:"quantity"`
	Refills  int    `json:"refills"`

	// pos is the line's index in the submitted form, kept across blank-line
	// removal so later errors name the line the caller sent.
	pos int
}

func (l MedicationLine) blank() bool {
	return strings.TrimSpace(l.Key) == "" && strings.TrimSpace(l.Sig) == ""
}

// Form is the prescription being written for one queue item.
type Form struct {
	Medications    []MedicationLine `json:"medications"`
	ShippingMethod string           `json:"shipping_method"`
	PharmacyGender string           `json:"pharmacy_gender"`
	Address        patient.Address  `json:"address"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every problem found in a form.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "invalid prescription: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// ValidateForm normalises f and reports every field problem at once. Blank
// medication lines are dropped, an empty shipping method becomes standard,
// pharmacy gender is reduced to M or F and the state to its two-letter code.
func ValidateForm(f Form) (Form, error) {
	verr := &ValidationError{}
	out := Form{
		ShippingMethod: strings.ToLower(strings.TrimSpace(f.ShippingMethod)),
		PharmacyGender: patient.NormalizeSex(f.PharmacyGender),
		Address: patient.Address{
			Address1: strings.TrimSpace(f.Address.Address1),
			Address2: strings.TrimSpace(f.Address.Address2),
			City:     strings.TrimSpace(f.Address.City),
			State:    strings.TrimSpace(f.Address.State),
			Zip:      strings.TrimSpace(f.Address.Zip),
		},
	}

	a := out.Address
	if a.Address1 == "" {
		verr.add("address1", "street address is required")
	}
	if a.City == "" {
		verr.add("city", "city is required")
	}
	if a.State == "" {
		verr.add("state", "state is required")
	} else if code, ok := patient.StateCode(a.State); ok {
		out.Address.State = code
	} else {
		verr.add("state", fmt.Sprintf("unknown state %q", a.State))
	}
	if a.Zip == "" {
		verr.add("zip", "zip is required")
	}

	if out.PharmacyGender == "" {
		verr.add("pharmacy_gender", "pharmacy gender must be M or F")
	}

	switch out.ShippingMethod {
	case "":
		out.ShippingMethod = ShippingStandard
	case ShippingStandard, ShippingTwoDay, ShippingOvernight:
	default:
		verr.add("shipping_method", fmt.Sprintf("unknown shipping method %q", f.ShippingMethod))
	}

	complete := 0
	for i, line := range f.Medications {
		if line.blank() {
			continue
		}
		line.Key = strings.TrimSpace(line.Key)
		line.Sig = strings.TrimSpace(line.Sig)
		line.pos = i
		field := fmt.Sprintf("medications[%d]", i)
		switch {
		case line.Key == "":
			verr.add(field+".key", "medication is required")
		case line.Sig == "":
			verr.add(field+".sig", "directions are required")
		default:
			complete++
		}
		if line.Quantity < 0 {
			verr.add(field+".quantity", "quantity must not be negative")
		}
		if line.Refills < 0 || line.Refills > maxRefills {
			verr.add(field+".refills", fmt.Sprintf("refills must be between 0 and %d", maxRefills))
		}
		out.Medications = append(out.Medications, line)
	}
	if complete == 0 {
		verr.add("medications", "at least one medication with directions is required")
	}

	return out, verr.orNil()
}

// prefillRefills is plan months minus the initial fill, clamped to the
// allowed range.
func prefillRefills(planMonths int) int {
	r := planMonths - 1
	if r < 0 {
		return 0
	}
	if r > maxRefills {
		return maxRefills
	}
	return r
}

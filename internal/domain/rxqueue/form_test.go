package rxqueue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telehealth/rxdesk/internal/domain/patient"
)

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	var out []string
	for _, fe := range verr.Errors {
		out = append(out, fe.Field)
	}
	return out
}

func TestValidateForm_Valid(t *testing.T) {
	f := validForm()
	f.PharmacyGender = "female"
	f.Address.State = "texas"
	f.Medications = append(f.Medications, MedicationLine{}, MedicationLine{Key: " ", Sig: ""})

	out, err := ValidateForm(f)
	require.NoError(t, err)
	assert.Equal(t, "F", out.PharmacyGender)
	assert.Equal(t, "TX", out.Address.State)
	assert.Equal(t, ShippingStandard, out.ShippingMethod)
	assert.Len(t, out.Medications, 1, "blank lines are dropped")
}

func TestValidateForm_RejectsEachMissingAddressField(t *testing.T) {
	for _, field := range []string{"address1", "city", "state", "zip"} {
		t.Run(field, func(t *testing.T) {
			f := validForm()
			switch field {
			case "address1":
				f.Address.Address1 = "  "
			case "city":
				f.Address.City = ""
			case "state":
				f.Address.State = ""
			case "zip":
				f.Address.Zip = ""
			}
			_, err := ValidateForm(f)
			assert.Contains(t, fieldsOf(t, err), field)
		})
	}
}

func TestValidateForm_RejectsUnsetGender(t *testing.T) {
	for _, g := range []string{"", "X", "other", "unknown"} {
		f := validForm()
		f.PharmacyGender = g
		_, err := ValidateForm(f)
		assert.Contains(t, fieldsOf(t, err), "pharmacy_gender", "gender %q", g)
	}
}

func TestValidateForm_GenderSpellings(t *testing.T) {
	for in, want := range map[string]string{"m": "M", "Male": "M", "F": "F", "FEMALE": "F"} {
		f := validForm()
		f.PharmacyGender = in
		out, err := ValidateForm(f)
		require.NoError(t, err)
		assert.Equal(t, want, out.PharmacyGender)
	}
}

func TestValidateForm_CollectsEveryError(t *testing.T) {
	f := Form{
		Medications: []MedicationLine{
			{Key: "tirzepatide-5", Sig: "", Quantity: -1, Refills: 12},
			{Key: "", Sig: "take daily"},
		},
		ShippingMethod: "drone",
		Address:        patient.Address{State: "Atlantis"},
	}
	_, err := ValidateForm(f)
	fields := fieldsOf(t, err)
	for _, want := range []string{
		"address1", "city", "state", "zip", "pharmacy_gender", "shipping_method",
		"medications[0].sig", "medications[0].quantity", "medications[0].refills",
		"medications[1].key", "medications",
	} {
		assert.Contains(t, fields, want)
	}
}

func TestValidateForm_NoMedications(t *testing.T) {
	f := validForm()
	f.Medications = []MedicationLine{{}, {}}
	_, err := ValidateForm(f)
	assert.Equal(t, []string{"medications"}, fieldsOf(t, err))
}

func TestValidateForm_ShippingMethods(t *testing.T) {
	for _, m := range []string{ShippingStandard, ShippingTwoDay, "OVERNIGHT"} {
		f := validForm()
		f.ShippingMethod = m
		_, err := ValidateForm(f)
		assert.NoError(t, err, m)
	}
}

func TestPrefillRefills(t *testing.T) {
	tests := map[int]int{0: 0, 1: 0, 3: 2, 6: 5, 12: 11, 24: 11, -2: 0}
	for months, want := range tests {
		assert.Equal(t, want, prefillRefills(months), "plan months %d", months)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Refill")
	require.NoError(t, err)
	assert.Equal(t, KindRefill, k)

	_, err = ParseKind("subscription")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

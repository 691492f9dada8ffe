package medication

import (
	"regexp"
	"strings"
)

// Family groups catalog entries that share an active ingredient.
type Family string

const (
	FamilyNone        Family = ""
	FamilyTirzepatide Family = "tirzepatide"
	FamilySemaglutide Family = "semaglutide"
)

// familyNames lists the ingredient and brand names that identify a GLP-1
// family in free text.
var familyNames = map[Family][]string{
	FamilyTirzepatide: {"tirzepatide", "mounjaro", "zepbound"},
	FamilySemaglutide: {"semaglutide", "ozempic", "wegovy", "rybelsus"},
}

// Entry is one prescribable item in the catalog. Key is what the pharmacy
// router understands.
type Entry struct {
	Key               string `json:"key"`
	Name              string `json:"name"`
	Strength          string `json:"strength"`
	Family            Family `json:"family,omitempty"`
	NewPatientDefault bool   `json:"new_patient_default"`
	DefaultSig        string `json:"default_sig"`
	DefaultQuantity   int    `json:"default_quantity"`
	SortOrder         int    `json:"sort_order"`
}

// Label is the display form used in the queue UI.
func (e Entry) Label() string {
	if e.Strength == "" {
		return e.Name
	}
	return e.Name + " " + e.Strength
}

func (e Entry) family() Family {
	if e.Family != FamilyNone {
		return e.Family
	}
	fams := detectFamilies(strings.ToLower(e.Name))
	if len(fams) == 1 {
		return fams[0]
	}
	return FamilyNone
}

var strengthPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(mg|mcg|ml|units?)\b`)

// strengthToken extracts the first dose token from s, normalised to
// "<number><unit>" with no spaces, e.g. "2.5 mg" -> "2.5mg".
func strengthToken(s string) string {
	m := strengthPattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return ""
	}
	num := m[1]
	if strings.Contains(num, ".") {
		num = strings.TrimRight(strings.TrimRight(num, "0"), ".")
	}
	return num + m[2]
}

// detectFamilies returns every GLP-1 family named in the lower-cased text,
// tirzepatide first.
func detectFamilies(lower string) []Family {
	var out []Family
	for _, f := range []Family{FamilyTirzepatide, FamilySemaglutide} {
		for _, name := range familyNames[f] {
			if strings.Contains(lower, name) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

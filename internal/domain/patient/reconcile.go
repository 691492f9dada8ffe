package patient

import (
	"regexp"
	"strings"
)

// Fix names reported by Reconcile, in rule order.
const (
	FixTrimmed         = "trimmed_whitespace"
	FixParsedCombined  = "parsed_combined_address"
	FixTruncatedLine1  = "truncated_address1"
	FixSplitStateZip   = "split_state_zip"
	FixZipToState      = "moved_state_from_zip"
	FixStateToZip      = "moved_zip_from_state"
	FixCityToAddress2  = "moved_unit_from_city"
	FixNormalizedState = "normalized_state"
)

var (
	zipPattern      = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	stateZipPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z. ]*?)[\s,]+(\d{5}(?:-\d{4})?)$`)
)

// A unit keyword counts only when a number or a single letter follows it,
// so cities such as "Ste. Genevieve" or a stray "FL" are left alone.
var unitPattern = regexp.MustCompile(`(?i)^(?:(?:apt|apartment|unit|suite|ste|bldg|fl)\.?(?:\s*#?\s*\d|\s+[a-z](?:\s|$))|#\s*\w)`)

// Result is the outcome of reconciling one address.
type Result struct {
	Address Address  `json:"address"`
	Changed bool     `json:"changed"`
	Fixes   []string `json:"fixes"`
}

func isZipLike(s string) bool { return zipPattern.MatchString(s) }

func isUnit(s string) bool { return unitPattern.MatchString(s) }

// Reconcile repairs the common ways intake forms corrupt an address: values
// shifted into the wrong field, a whole address typed into line one, a unit
// number typed as the city. It never consults anything but its input.
func Reconcile(in Address) Result {
	a := Address{
		Address1: strings.TrimSpace(in.Address1),
		Address2: strings.TrimSpace(in.Address2),
		City:     strings.TrimSpace(in.City),
		State:    strings.TrimSpace(in.State),
		Zip:      strings.TrimSpace(in.Zip),
	}
	fixes := []string{}
	if a != in {
		fixes = append(fixes, FixTrimmed)
	}

	// Whole address in line one and nothing else to go on.
	if a.City == "" && a.State == "" && a.Zip == "" && strings.Contains(a.Address1, ",") {
		if parsed, ok := parseCombined(a); ok {
			a = parsed
			fixes = append(fixes, FixParsedCombined)
		}
	}

	// Line one carries the full address but components exist separately.
	if strings.Contains(a.Address1, ",") && (a.City != "" || a.State != "" || a.Zip != "") {
		segs := splitSegments(a.Address1)
		if len(segs) > 0 {
			a.Address1 = segs[0]
			if len(segs) > 1 && a.Address2 == "" && isUnit(segs[1]) {
				a.Address2 = segs[1]
			}
			fixes = append(fixes, FixTruncatedLine1)
		}
	}

	if m := stateZipPattern.FindStringSubmatch(a.Zip); m != nil {
		if code, ok := StateCode(m[1]); ok {
			a.Zip = m[2]
			if a.State == "" {
				a.State = code
			}
			fixes = append(fixes, FixSplitStateZip)
		}
	}

	if a.Zip != "" && !isZipLike(a.Zip) {
		if _, ok := StateCode(a.Zip); ok {
			oldState := a.State
			a.State = a.Zip
			a.Zip = ""
			switch {
			case isZipLike(oldState):
				a.Zip = oldState
			case oldState != "" && a.City == "":
				// City, state, zip were shifted one field to the right.
				if _, isState := StateCode(oldState); !isState {
					a.City = oldState
				}
			}
			fixes = append(fixes, FixZipToState)
		}
	}

	if isZipLike(a.State) && (a.Zip == "" || a.Zip == a.State) {
		a.Zip = a.State
		a.State = ""
		fixes = append(fixes, FixStateToZip)
	}

	if isUnit(a.City) {
		switch {
		case a.Address2 == "":
			a.Address2 = a.City
		case !strings.EqualFold(a.Address2, a.City):
			a.Address2 = a.Address2 + " " + a.City
		}
		a.City = ""
		fixes = append(fixes, FixCityToAddress2)
	}

	if code, ok := StateCode(a.State); ok && code != a.State {
		a.State = code
		fixes = append(fixes, FixNormalizedState)
	}

	return Result{Address: a, Changed: a != in, Fixes: fixes}
}

func splitSegments(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitCityState splits "Kansas City Missouri" or "Springfield IL" into a
// city and a state code. The longest trailing state name wins.
func splitCityState(s string) (city, state string, ok bool) {
	words := strings.Fields(s)
	for k := 3; k >= 1; k-- {
		if k > len(words) {
			continue
		}
		if code, found := StateCode(strings.Join(words[len(words)-k:], " ")); found {
			return strings.Join(words[:len(words)-k], " "), code, true
		}
	}
	return "", "", false
}

// parseCombined reads "street[, unit], city, ST zip" out of Address1. The
// trailing state and zip may also be separate segments, and the city may
// share a segment with the state. At least a state or a zip must be
// recognised.
func parseCombined(a Address) (Address, bool) {
	segs := splitSegments(a.Address1)
	if len(segs) < 2 {
		return a, false
	}

	var state, zip string
	// takeState consumes the last segment when it ends in a state, leaving
	// any city words in its place.
	takeState := func(seg string) bool {
		city, code, ok := splitCityState(seg)
		if !ok {
			return false
		}
		state = code
		segs = segs[:len(segs)-1]
		if city != "" {
			segs = append(segs, city)
		}
		return true
	}

	last := segs[len(segs)-1]
	switch {
	case isZipLike(last):
		zip = last
		segs = segs[:len(segs)-1]
		if len(segs) > 1 {
			takeState(segs[len(segs)-1])
		}
	case stateZipPattern.MatchString(last):
		m := stateZipPattern.FindStringSubmatch(last)
		if takeState(m[1]) {
			zip = m[2]
		}
	default:
		takeState(last)
	}
	if state == "" && zip == "" {
		return a, false
	}

	out := a
	out.State, out.Zip = state, zip
	out.Address1 = segs[0]
	if len(segs) >= 2 {
		out.City = segs[len(segs)-1]
		if middle := segs[1 : len(segs)-1]; len(middle) > 0 && out.Address2 == "" {
			out.Address2 = strings.Join(middle, ", ")
		}
	}
	return out, true
}

package medication

import "strings"

// Select picks the catalog entry matching a free-text treatment label.
//
// A label naming tirzepatide never yields a semaglutide entry, and a label
// naming only semaglutide never yields a tirzepatide entry. New patients on a
// GLP-1 family get that family's starting dose whatever strength the label
// asks for. Otherwise the entry must be named in the label (directly or via a
// brand name of its family) and must not contradict the label's strength;
// an exact strength match beats a strengthless entry, then the longest name
// wins, then catalog order.
func Select(catalog []Entry, label string, newPatient bool) (Entry, bool) {
	lower := strings.ToLower(strings.TrimSpace(label))
	if lower == "" {
		return Entry{}, false
	}

	fams := detectFamilies(lower)
	hasTirz, hasSema := false, false
	for _, f := range fams {
		switch f {
		case FamilyTirzepatide:
			hasTirz = true
		case FamilySemaglutide:
			hasSema = true
		}
	}

	allowed := func(e Entry) bool {
		switch e.family() {
		case FamilySemaglutide:
			return !hasTirz
		case FamilyTirzepatide:
			return hasTirz || !hasSema
		}
		return true
	}

	var family Family
	switch {
	case hasTirz:
		family = FamilyTirzepatide
	case hasSema:
		family = FamilySemaglutide
	}

	if newPatient && family != FamilyNone {
		for _, e := range catalog {
			if e.NewPatientDefault && e.family() == family {
				return e, true
			}
		}
	}

	want := strengthToken(lower)
	var (
		best      Entry
		bestScore = -1
		found     bool
	)
	for _, e := range catalog {
		if !allowed(e) || !namedIn(e, lower, family) {
			continue
		}
		score := 0
		if have := strengthToken(e.Strength); want != "" && have != "" {
			if have != want {
				continue
			}
			score = 1
		}
		if !found || score > bestScore ||
			(score == bestScore && len(e.Name) > len(best.Name)) ||
			(score == bestScore && len(e.Name) == len(best.Name) && e.SortOrder < best.SortOrder) {
			best, bestScore, found = e, score, true
		}
	}
	return best, found
}

func namedIn(e Entry, lower string, family Family) bool {
	if e.Key != "" && strings.Contains(lower, strings.ToLower(e.Key)) {
		return true
	}
	if e.Name != "" && strings.Contains(lower, strings.ToLower(e.Name)) {
		return true
	}
	return family != FamilyNone && e.family() == family
}

// Find returns the entry with the given key.
func Find(catalog []Entry, key string) (Entry, bool) {
	for _, e := range catalog {
		if strings.EqualFold(e.Key, key) {
			return e, true
		}
	}
	return Entry{}, false
}

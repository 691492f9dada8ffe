package earnings

import (
	"context"
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	maxDays    = 366
)

type Service struct {
	repo      Repository
	rateCents int64
	now       func() time.Time
}

func NewService(repo Repository, rateCents int64) *Service {
	return &Service{repo: repo, rateCents: rateCents, now: time.Now}
}

// Range parses the from/to query values. Both are inclusive calendar dates;
// an empty to means today and an empty from means 30 days before to.
func (s *Service) Range(fromRaw, toRaw string) (time.Time, time.Time, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	to := today
	if toRaw != "" {
		t, err := time.Parse(dateLayout, toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrInvalidRange)
		}
		to = t
	}
	from := to.AddDate(0, 0, -29)
	if fromRaw != "" {
		f, err := time.Parse(dateLayout, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrInvalidRange)
		}
		from = f
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from is after to", ErrInvalidRange)
	}
	if to.Sub(from) >= maxDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range exceeds %d days", ErrInvalidRange, maxDays)
	}
	return from, to, nil
}

// ForProvider reports per-day submissions between the inclusive dates from
// and to. Days without submissions are present with zero counts.
func (s *Service) ForProvider(ctx context.Context, providerID string, from, to time.Time) (*Summary, error) {
	counts, err := s.repo.SubmissionsByDay(ctx, providerID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]int, len(counts))
	for _, dc := range counts {
		byDay[dc.Day.Format(dateLayout)] += dc.Count
	}

	sum := &Summary{
		ProviderID:  providerID,
		From:        from.Format(dateLayout),
		To:          to.Format(dateLayout),
		RateCents:   s.rateCents,
		Days:        []Bucket{},
		GeneratedAt: s.now().UTC(),
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		n := byDay[key]
		sum.Days = append(sum.Days, Bucket{Date: key, Submissions: n, EarningsCents: int64(n) * s.rateCents})
		sum.Submissions += n
	}
	sum.EarningsCents = int64(sum.Submissions) * s.rateCents
	return sum, nil
}

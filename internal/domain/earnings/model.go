package earnings

import (
	"errors"
	"time"
)

var ErrInvalidRange = errors.New("invalid date range")

// DayCount is the number of prescriptions a provider submitted on one UTC day.
type DayCount struct {
	Day   time.Time
	Count int
}

type Bucket struct {
	Date          string `json:"date"`
	Submissions   int    `json:"submissions"`
	EarningsCents int64  `json:"earnings_cents"`
}

// Summary is a provider's earnings over [From, To).
type Summary struct {
	ProviderID    string    `json:"provider_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	RateCents     int64     `json:"rate_cents"`
	Submissions   int       `json:"submissions"`
	EarningsCents int64     `json:"earnings_cents"`
	Days          []Bucket  `json:"days"`
	GeneratedAt   time.Time `json:"generated_at"`
}

package earnings

import (
	"context"
	"time"
)

type Repository interface {
	// SubmissionsByDay counts the provider's prescriptions per UTC day with
	// submitted_at in [from, to).
	SubmissionsByDay(ctx context.Context, providerID string, from, to time.Time) ([]DayCount, error)
}

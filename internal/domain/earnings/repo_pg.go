package earnings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/rxdesk/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) SubmissionsByDay(ctx context.Context, providerID string, from, to time.Time) ([]DayCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT date_trunc('day', submitted_at AT TIME ZONE 'UTC') AS day, COUNT(*)
		FROM prescription
		WHERE provider_id = $1 AND submitted_at >= $2 AND submitted_at < $3
		GROUP BY day
		ORDER BY day`,
		providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		dc.Day = time.Date(dc.Day.Year(), dc.Day.Month(), dc.Day.Day(), 0, 0, 0, 0, time.UTC)
		out = append(out, dc)
	}
	return out, rows.Err()
}

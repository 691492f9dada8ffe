package medication

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/rxdesk/internal/platform/db"
)

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepoPG{pool: pool}
}

func (r *catalogRepoPG) ListActive(ctx context.Context) ([]Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT key, name, strength, family, new_patient_default,
			default_sig, default_quantity, sort_order
		FROM medication_catalog
		WHERE active
		ORDER BY sort_order, key`)
	if err != nil {
		return nil, fmt.Errorf("list medication catalog: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var family string
		if err := rows.Scan(&e.Key, &e.Name, &e.Strength, &family, &e.NewPatientDefault,
			&e.DefaultSig, &e.DefaultQuantity, &e.SortOrder); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		e.Family = Family(family)
		out = append(out, e)
	}
	return out, rows.Err()
}

package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/rxdesk/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, clinic_id, first_name, last_name, email, phone, date_of_birth,
	biological_sex, address1, address2, city, state, zip,
	allergies, contraindications, current_medications, glp1_history, intake,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.DateOfBirth,
		&p.BiologicalSex, &p.Address.Address1, &p.Address.Address2, &p.Address.City, &p.Address.State, &p.Address.Zip,
		&p.Allergies, &p.Contraindications, &p.CurrentMedications, &p.GLP1History, &p.Intake,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	intake := p.Intake
	if len(intake) == 0 {
		intake = []byte(`{}`)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, clinic_id, first_name, last_name, email, phone, date_of_birth,
			biological_sex, address1, address2, city, state, zip,
			allergies, contraindications, current_medications, glp1_history, intake)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		p.ID, p.ClinicID, p.FirstName, p.LastName, p.Email, p.Phone, p.DateOfBirth,
		p.BiologicalSex, p.Address.Address1, p.Address.Address2, p.Address.City, p.Address.State, p.Address.Zip,
		p.Allergies, p.Contraindications, p.CurrentMedications, p.GLP1History, intake,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) UpdateAddress(ctx context.Context, id uuid.UUID, a Address) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET address1=$2, address2=$3, city=$4, state=$5, zip=$6, updated_at=NOW()
		WHERE id = $1`,
		id, a.Address1, a.Address2, a.City, a.State, a.Zip)
	if err != nil {
		return fmt.Errorf("update patient address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var searchOrder = []string{"name", "email", "state", "clinic_id"}

var searchFilters = map[string]db.Filter{
	"name":      {Type: db.FilterContains, Column: "(first_name || ' ' || last_name)"},
	"email":     {Type: db.FilterContains, Column: "email"},
	"state":     {Type: db.FilterExact, Column: "state"},
	"clinic_id": {Type: db.FilterExact, Column: "clinic_id::text"},
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	q := db.NewQuery("patient", patientCols)
	q.ApplyParams(params, searchOrder, searchFilters)
	q.OrderBy("last_name, first_name, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

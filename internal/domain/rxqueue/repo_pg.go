package rxqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

// queueSource unions the three source tables with everything the queue
// shows about each row. pending reflects the source record alone; the
// last terminal action and any dispensed prescription are joined on top.
const queueSource = `(
	SELECT s.kind, s.source_id, s.queued_at, s.treatment_label, s.plan_months, s.amount_cents, s.pending,
		p.id AS patient_id, p.first_name, p.last_name, p.email, p.phone, p.date_of_birth, p.state,
		p.clinic_id, COALESCE(c.name, '') AS clinic_name, COALESCE(c.routing_code, '') AS clinic_code,
		COALESCE(sn.status, 'MISSING') AS soap_status,
		la.action AS last_action,
		(rx.source_id IS NOT NULL) AS dispensed
	FROM (
		SELECT 'invoice' AS kind, id AS source_id, paid_at AS queued_at, patient_id,
			treatment_label, plan_months, amount_cents,
			(status = 'paid' AND processed_at IS NULL) AS pending
		FROM invoice WHERE paid_at IS NOT NULL
		UNION ALL
		SELECT 'refill', id, requested_at, patient_id, treatment_label, plan_months, amount_cents,
			(status = 'pending' AND processed_at IS NULL)
		FROM refill_request
		UNION ALL
		SELECT 'order', id, queued_at, patient_id, treatment_label, plan_months, amount_cents,
			(processed_at IS NULL)
		FROM admin_order
	) s
	JOIN patient p ON p.id = s.patient_id
	LEFT JOIN clinic c ON c.id = p.clinic_id
	LEFT JOIN soap_note sn ON sn.item_kind = s.kind AND sn.source_id = s.source_id
	LEFT JOIN LATERAL (
		SELECT qa.action FROM queue_action qa
		WHERE qa.item_kind = s.kind AND qa.source_id = s.source_id
			AND qa.action IN ('submitted', 'processed', 'declined')
		ORDER BY qa.created_at DESC LIMIT 1
	) la ON TRUE
	LEFT JOIN LATERAL (
		SELECT rx.source_id FROM prescription rx
		WHERE rx.item_kind = s.kind AND rx.source_id = s.source_id AND rx.dispensed_at IS NOT NULL
		LIMIT 1
	) rx ON TRUE
) q`

const itemCols = `kind, source_id, queued_at, treatment_label, plan_months, amount_cents,
	pending, last_action, dispensed,
	patient_id, first_name, last_name, email, phone, date_of_birth, state,
	clinic_id, clinic_name, clinic_code, soap_status`

func scanItem(row pgx.Row) (*Item, error) {
	var (
		it         Item
		pending    bool
		dispensed  bool
		lastAction *string
		first      string
		last       string
		clinicID   *uuid.UUID
		clinicName string
		clinicCode string
	)
	err := row.Scan(&it.Kind, &it.SourceID, &it.QueuedAt, &it.TreatmentLabel, &it.PlanMonths, &it.AmountCents,
		&pending, &lastAction, &dispensed,
		&it.Patient.ID, &first, &last, &it.Patient.Email, &it.Patient.Phone, &it.Patient.DateOfBirth, &it.Patient.State,
		&clinicID, &clinicName, &clinicCode, &it.SoapStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	it.Patient.Name = first + " " + last
	if clinicID != nil {
		it.Clinic = &Clinic{ID: *clinicID, Name: clinicName, RoutingCode: clinicCode}
	}
	it.Status = itemStatus(pending, lastAction, dispensed)
	return &it, nil
}

func itemStatus(pending bool, lastAction *string, dispensed bool) string {
	switch {
	case dispensed:
		return StatusDispensed
	case lastAction != nil:
		return *lastAction
	case pending:
		return StatusPending
	}
	return StatusClosed
}

func (r *repoPG) ListPending(ctx context.Context, f Filter, limit, offset int) ([]*Item, int, error) {
	q := db.NewQuery(queueSource, itemCols)
	q.Add("pending AND last_action IS NULL AND NOT dispensed")
	if f.Kind != "" {
		q.Add(fmt.Sprintf("kind = $%d", q.Next()), string(f.Kind))
	}
	if f.ClinicID != nil {
		q.Add(fmt.Sprintf("clinic_id = $%d", q.Next()), *f.ClinicID)
	}
	if f.Search != "" {
		n := q.Next()
		q.Add(fmt.Sprintf("(first_name || ' ' || last_name ILIKE $%d OR email ILIKE $%d)", n, n), "%"+f.Search+"%")
	}
	q.OrderBy("queued_at ASC, source_id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func (r *repoPG) GetItem(ctx context.Context, ref ItemRef) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM `+queueSource+` WHERE kind = $1 AND source_id = $2`,
		string(ref.Kind), ref.SourceID))
}

// Advisory locks are database wide, so the key carries the tenant.
func (r *repoPG) Claim(ctx context.Context, ref ItemRef) error {
	key := db.TenantFromContext(ctx) + ":" + ref.String()
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("claim %s: %w", ref, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repoPG) CreatePrescription(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = "submitted"
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, item_kind, source_id, patient_id, provider_id, pharmacy_order_id, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING submitted_at`,
		p.ID, string(p.Kind), p.SourceID, p.PatientID, p.ProviderID, p.PharmacyOrderID, p.Payload, p.Status,
	).Scan(&p.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *repoPG) RecordAction(ctx context.Context, a *ActionRecord) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	sql := `
		INSERT INTO queue_action (id, item_kind, source_id, action, actor_id, note)
		SELECT $1::uuid, $2::varchar, $3::uuid, $4::varchar, $5::varchar, $6::text`
	if a.Action.Terminal() {
		sql += `
		WHERE NOT EXISTS (
			SELECT 1 FROM queue_action
			WHERE item_kind = $2 AND source_id = $3 AND action IN ('submitted', 'processed', 'declined')
		)`
	}
	sql += ` RETURNING created_at`

	err := r.conn(ctx).QueryRow(ctx, sql,
		a.ID, string(a.Kind), a.SourceID, string(a.Action), a.ActorID, a.Note).Scan(&a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return ErrNotActive
	}
	if err != nil {
		return fmt.Errorf("record queue action: %w", err)
	}
	return nil
}

func (r *repoPG) History(ctx context.Context, ref ItemRef) ([]*ActionRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, item_kind, source_id, action, actor_id, note, created_at
		FROM queue_action
		WHERE item_kind = $1 AND source_id = $2
		ORDER BY created_at, id`, string(ref.Kind), ref.SourceID)
	if err != nil {
		return nil, fmt.Errorf("list queue actions: %w", err)
	}
	defer rows.Close()

	var out []*ActionRecord
	for rows.Next() {
		var a ActionRecord
		if err := rows.Scan(&a.ID, &a.Kind, &a.SourceID, &a.Action, &a.ActorID, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue action: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *repoPG) MarkSourceProcessed(ctx context.Context, ref ItemRef, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`, ref.Kind.sourceTable()),
		ref.SourceID, at)
	if err != nil {
		return fmt.Errorf("mark %s processed: %w", ref.Kind, err)
	}
	return nil
}

func (r *repoPG) CreateOrder(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admin_order (id, patient_id, treatment_label, plan_months, amount_cents, notes, queued_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING queued_at`,
		o.ID, o.PatientID, o.TreatmentLabel, o.PlanMonths, o.AmountCents, o.Notes, o.QueuedBy,
	).Scan(&o.QueuedAt)
	if err != nil {
		return fmt.Errorf("insert admin order: %w", err)
	}
	return nil
}

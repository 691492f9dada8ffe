//go:build integration

package integration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telehealth/rxdesk/internal/domain/medication"
	"github.com/telehealth/rxdesk/internal/domain/patient"
	"github.com/telehealth/rxdesk/internal/domain/rxqueue"
	"github.com/telehealth/rxdesk/internal/domain/soapnote"
	"github.com/telehealth/rxdesk/internal/platform/db"
	"github.com/telehealth/rxdesk/internal/platform/pharmacy"
)

type workflow struct {
	queue *rxqueue.Service
	notes *soapnote.Service
}

func newWorkflow() workflow {
	return newWorkflowWith(pharmacy.LocalRouter{Logger: zerolog.Nop()})
}

func newWorkflowWith(router pharmacy.Router) workflow {
	logger := zerolog.Nop()
	notes := soapnote.NewService(soapnote.NewRepoPG(globalPool), nil, logger)
	queue := rxqueue.NewService(rxqueue.NewRepoPG(globalPool), rxqueue.Deps{
		Patients: patient.NewRepoPG(globalPool),
		Notes:    notes,
		Catalog:  medication.NewService(medication.NewCatalogRepoPG(globalPool)),
		Pharmacy: router,
		Tx:       db.NewTxRunner(),
		Logger:   logger,
	})
	return workflow{queue: queue, notes: notes}
}

func TestWorkflow_PrefillApproveSubmit(t *testing.T) {
	tenantID := newTenant(t, "workflow")
	w := newWorkflow()
	provider := rxqueue.Actor{ID: "dr-a", CanApprove: true}

	inTenant(t, tenantID, func(ctx context.Context) error {
		p := createPatient(t, ctx, "Mia", "Ford", nil)
		id := createPaidInvoice(t, ctx, p.ID, "Tirzepatide 2.5mg", time.Now().Add(-time.Hour))
		ref := rxqueue.ItemRef{Kind: rxqueue.KindInvoice, SourceID: id}

		pre, err := w.queue.Prefill(ctx, ref)
		require.NoError(t, err)
		require.True(t, pre.MedicationHit)
		require.Len(t, pre.Form.Medications, 1)
		assert.Equal(t, "tirzepatide-2.5", pre.Form.Medications[0].Key)

		_, err = w.queue.Submit(ctx, ref, rxqueue.SubmitRequest{Form: pre.Form}, provider)
		assert.ErrorIs(t, err, soapnote.ErrSoapNoteMissing)

		_, subj, err := w.queue.ResolveSubject(ctx, string(ref.Kind), id)
		require.NoError(t, err)
		_, err = w.notes.Generate(ctx, string(ref.Kind), id, p.ID, subj, provider.ID)
		require.NoError(t, err)

		_, err = w.queue.Submit(ctx, ref, rxqueue.SubmitRequest{Form: pre.Form}, provider)
		assert.ErrorIs(t, err, soapnote.ErrSoapNoteNotApproved)

		sub, err := w.queue.Submit(ctx, ref, rxqueue.SubmitRequest{Form: pre.Form, ApproveNote: true}, provider)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sub.Prescription.PharmacyOrderID, "local-"))
		assert.Equal(t, string(soapnote.StatusLocked), sub.SoapStatus)

		note, err := w.notes.Get(ctx, string(ref.Kind), id)
		require.NoError(t, err)
		assert.Equal(t, soapnote.StatusLocked, note.Status)

		item, err := w.queue.GetItem(ctx, ref)
		require.NoError(t, err)
		assert.False(t, item.Active())

		history, err := w.queue.History(ctx, ref)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, rxqueue.ActionNoteApproved, history[0].Action)
		assert.Equal(t, rxqueue.ActionSubmitted, history[1].Action)

		_, err = w.queue.Submit(ctx, ref, rxqueue.SubmitRequest{Form: pre.Form}, provider)
		assert.ErrorIs(t, err, rxqueue.ErrNotActive)

		var rows int
		require.NoError(t, db.ConnFromContext(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM prescription WHERE source_id = $1`, id).Scan(&rows))
		assert.Equal(t, 1, rows)
		return nil
	})
}

func TestWorkflow_EnqueueAndDecline(t *testing.T) {
	tenantID := newTenant(t, "workflow_order")
	w := newWorkflow()

	inTenant(t, tenantID, func(ctx context.Context) error {
		p := createPatient(t, ctx, "Noa", "Hill", nil)
		o, err := w.queue.EnqueueOrder(ctx, rxqueue.OrderRequest{
			PatientID: p.ID, TreatmentLabel: "Semaglutide 0.5mg", PlanMonths: 1,
		}, rxqueue.Actor{ID: "admin-1"})
		require.NoError(t, err)

		ref := rxqueue.ItemRef{Kind: rxqueue.KindOrder, SourceID: o.ID}
		require.NoError(t, w.queue.Decline(ctx, ref, rxqueue.Actor{ID: "dr-a"}, "patient withdrew"))
		assert.ErrorIs(t, w.queue.MarkProcessed(ctx, ref, rxqueue.Actor{ID: "dr-a"}, ""), rxqueue.ErrNotActive)

		_, total, err := w.queue.ListPending(ctx, rxqueue.Filter{}, 20, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		return nil
	})
}

// countingRouter accepts every order after a short delay so overlapping
// submits are still in flight together.
type countingRouter struct {
	calls atomic.Int32
}

func (r *countingRouter) Submit(ctx context.Context, o pharmacy.Order) (*pharmacy.Result, error) {
	r.calls.Add(1)
	time.Sleep(50 * time.Millisecond)
	return pharmacy.LocalRouter{Logger: zerolog.Nop()}.Submit(ctx, o)
}

func TestWorkflow_ConcurrentSubmitsOneWins(t *testing.T) {
	tenantID := newTenant(t, "workflow_race")
	router := &countingRouter{}
	w := newWorkflowWith(router)
	provider := rxqueue.Actor{ID: "dr-a", CanApprove: true}

	var (
		ref  rxqueue.ItemRef
		form rxqueue.Form
	)
	inTenant(t, tenantID, func(ctx context.Context) error {
		p := createPatient(t, ctx, "Ivy", "Stone", nil)
		id := createPaidInvoice(t, ctx, p.ID, "Tirzepatide 2.5mg", time.Now().Add(-time.Hour))
		ref = rxqueue.ItemRef{Kind: rxqueue.KindInvoice, SourceID: id}

		pre, err := w.queue.Prefill(ctx, ref)
		require.NoError(t, err)
		form = pre.Form

		_, subj, err := w.queue.ResolveSubject(ctx, string(ref.Kind), id)
		require.NoError(t, err)
		_, err = w.notes.Generate(ctx, string(ref.Kind), id, p.ID, subj, provider.ID)
		require.NoError(t, err)
		_, err = w.queue.ApproveNote(ctx, string(ref.Kind), id, provider.ID)
		require.NoError(t, err)
		return nil
	})

	const submitters = 2
	var wg sync.WaitGroup
	errs := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.WithTenantConn(context.Background(), globalPool, tenantID, func(ctx context.Context) error {
				_, err := w.queue.Submit(ctx, ref, rxqueue.SubmitRequest{Form: form}, provider)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)

	var ok, notActive int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, rxqueue.ErrNotActive):
			notActive++
		default:
			t.Errorf("unexpected submit error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notActive)
	assert.Equal(t, int32(1), router.calls.Load(), "only the winning submit reaches the pharmacy")

	inTenant(t, tenantID, func(ctx context.Context) error {
		history, err := w.queue.History(ctx, ref)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, rxqueue.ActionNoteApproved, history[0].Action)
		assert.Equal(t, rxqueue.ActionSubmitted, history[1].Action)

		var rx, terminal int
		conn := db.ConnFromContext(ctx)
		require.NoError(t, conn.QueryRow(ctx,
			`SELECT COUNT(*) FROM prescription WHERE source_id = $1`, ref.SourceID).Scan(&rx))
		require.NoError(t, conn.QueryRow(ctx,
			`SELECT COUNT(*) FROM queue_action WHERE source_id = $1 AND action = 'submitted'`, ref.SourceID).Scan(&terminal))
		assert.Equal(t, 1, rx)
		assert.Equal(t, 1, terminal)
		return nil
	})
}

func TestWorkflow_TerminalActionUniqueIndex(t *testing.T) {
	tenantID := newTenant(t, "workflow_unique")

	inTenant(t, tenantID, func(ctx context.Context) error {
		id := uuid.New()
		insert := `INSERT INTO queue_action (id, item_kind, source_id, action, actor_id) VALUES ($1, 'order', $2, $3, 'dr-a')`
		exec(t, ctx, insert, uuid.New(), id, "note_approved")
		exec(t, ctx, insert, uuid.New(), id, "declined")

		_, err := db.ConnFromContext(ctx).Exec(ctx, insert, uuid.New(), id, "processed")
		require.Error(t, err, "a second terminal action is rejected by the index")

		repo := rxqueue.NewRepoPG(globalPool)
		err = repo.RecordAction(ctx, &rxqueue.ActionRecord{
			Kind: rxqueue.KindOrder, SourceID: id, Action: rxqueue.ActionSubmitted, ActorID: "dr-b",
		})
		assert.ErrorIs(t, err, rxqueue.ErrNotActive)
		return nil
	})
}

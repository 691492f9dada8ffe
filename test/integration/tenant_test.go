//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telehealth/rxdesk/internal/domain/rxqueue"
	"github.com/telehealth/rxdesk/internal/platform/db"
	"github.com/telehealth/rxdesk/migrations"
)

func TestMultiTenant_Isolation(t *testing.T) {
	tenantA := newTenant(t, "iso_a")
	tenantB := newTenant(t, "iso_b")
	repo := rxqueue.NewRepoPG(globalPool)

	inTenant(t, tenantA, func(ctx context.Context) error {
		p := createPatient(t, ctx, "Olu", "Ade", nil)
		createPaidInvoice(t, ctx, p.ID, "Tirzepatide 2.5mg", time.Now())
		return nil
	})

	inTenant(t, tenantA, func(ctx context.Context) error {
		_, total, err := repo.ListPending(ctx, rxqueue.Filter{}, 20, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		return nil
	})
	inTenant(t, tenantB, func(ctx context.Context) error {
		_, total, err := repo.ListPending(ctx, rxqueue.Filter{}, 20, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, total, "tenant B must not see tenant A's queue")
		return nil
	})
}

func TestMigrator_StatusAndIdempotentUp(t *testing.T) {
	tenantID := newTenant(t, "migrate")
	ctx := context.Background()
	m := db.NewMigrator(globalPool, migrations.FS)

	applied, err := m.Up(ctx, db.SchemaName(tenantID))
	require.NoError(t, err)
	assert.Equal(t, 0, applied, "schema is already current")

	statuses, err := m.Status(ctx, db.SchemaName(tenantID))
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %d", s.Version)
	}
}

func TestTenantSchema_RejectsBadIdentifier(t *testing.T) {
	err := db.CreateTenantSchema(context.Background(), globalPool, "bad-id; DROP", nil)
	assert.Error(t, err)
}

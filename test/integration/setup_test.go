//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telehealth/rxdesk/internal/platform/db"
	"github.com/telehealth/rxdesk/migrations"
)

// globalPool is shared by every test and initialized once in TestMain.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pool, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func startPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("rxdesk"),
		postgres.WithUsername("rxdesk"),
		postgres.WithPassword("rxdesk"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("connection string: %w", err)
	}

	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// newTenant creates a migrated schema for one test and drops it afterwards.
func newTenant(t *testing.T, prefix string) string {
	t.Helper()
	ctx := context.Background()
	tenantID := prefix + "_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")

	if err := db.CreateTenantSchema(ctx, globalPool, tenantID, db.NewMigrator(globalPool, migrations.FS)); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() {
		_, err := globalPool.Exec(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", db.SchemaName(tenantID)))
		if err != nil {
			t.Logf("warning: failed to drop schema for %s: %v", tenantID, err)
		}
	})
	return tenantID
}

// inTenant runs fn with a connection pinned to the tenant schema, the way
// the tenant middleware does for a request.
func inTenant(t *testing.T, tenantID string, fn func(ctx context.Context) error) {
	t.Helper()
	if err := db.WithTenantConn(context.Background(), globalPool, tenantID, fn); err != nil {
		t.Fatalf("tenant %s: %v", tenantID, err)
	}
}

func exec(t *testing.T, ctx context.Context, sql string, args ...interface{}) {
	t.Helper()
	if _, err := db.ConnFromContext(ctx).Exec(ctx, sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

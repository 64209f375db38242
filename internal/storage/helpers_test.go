package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/invoice-sync/internal/config"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

const defaultTestTimeout = 10 * time.Second

// testContext bounds a test's store calls, finishing early when go test's own
// deadline is closer
func testContext(t *testing.T) context.Context {
	t.Helper()
	timeout := defaultTestTimeout
	if deadline, ok := t.Deadline(); ok {
		if left := time.Until(deadline) - time.Second; left > 0 && left < timeout {
			timeout = left
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// setupPostgres connects to the local development database, applies the
// migrations and returns a fresh company id to isolate the test's rows.
func setupPostgres(t *testing.T) (*PostgresDB, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "invoice_sync",
		User:           "invoice_sync",
		Password:       "invoice_sync_dev_password",
		SSLMode:        "disable",
		MaxConnections: 10,
	}

	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(cfg.PostgresDSN(), "../../migrations/postgres"))

	companyID := "test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = db.Pool().Exec(ctx, `DELETE FROM stored_invoices WHERE company_id = $1`, companyID)
		_, _ = db.Pool().Exec(ctx, `DELETE FROM sync_jobs WHERE company_id = $1`, companyID)
	})
	return db, companyID
}

// companyRecord is record scoped to an isolated test company
func companyRecord(companyID, remoteID string, direction types.Direction) *models.RemoteInvoiceRecord {
	rec := record(remoteID, direction)
	rec.CompanyID = companyID
	return rec
}

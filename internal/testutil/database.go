// Package testutil provides test utilities for the books-must-balance project.
// It offers in-memory storage with migrations applied and fluent builders for
// seeding tenants with transactions and invoices.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	testutil.NewLedger(t, "acme").
//		WithTransaction("t1", "2025-01-29", "-1850.00", "SPEI PAPELERIA LA ESTRELLA").
//		WithInvoice(testutil.Inv("i1", "2025-01-28", "1850.00").Counterpart("PLE010101AB1", "Papeleria La Estrella")).
//		Seed(db.Storage)
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// Seed stores the ledger in this database.
func (db *TestDB) Seed(l *Ledger) *TestDB {
	db.t.Helper()
	l.Seed(db.Storage)
	return db
}

package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func TestSQLiteStorage_SaveInvoices(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	inv := testInvoice("acme", "i1", "1850.00", testDay)
	inv.LineItems = append(inv.LineItems, model.LineItem{
		Description: "Plumas azules", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.Zero,
	})
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{inv}))

	got, err := store.GetInvoiceByUUID(ctx, inv.UUID)
	require.NoError(t, err)
	assert.Equal(t, "i1", got.ID)
	assert.Equal(t, model.InvoiceReceived, got.Kind)
	assert.Equal(t, "G03", got.UsageCode)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("1850")))
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, "Hojas blancas carta", got.LineItems[0].Description)
	assert.Equal(t, "Plumas azules", got.LineItems[1].Description)

	byID, err := store.GetInvoice(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, inv.UUID, byID.UUID)
}

func TestSQLiteStorage_SaveInvoicesRefreshesStatus(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	inv := testInvoice("acme", "i1", "1850.00", testDay)
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{inv}))

	inv.Status = model.InvoiceStatusCancelled
	inv.LineItems = inv.LineItems[:0]
	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{inv}))

	got, err := store.GetInvoice(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, got.IsCancelled())
	assert.Empty(t, got.LineItems)
}

func TestSQLiteStorage_SaveInvoicesDuplicateUUID(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	first := testInvoice("acme", "i1", "100.00", testDay)
	second := testInvoice("acme", "i2", "100.00", testDay)
	second.UUID = first.UUID

	require.NoError(t, store.SaveInvoices(ctx, []model.Invoice{first}))
	assert.ErrorIs(t, store.SaveInvoices(ctx, []model.Invoice{second}), common.ErrDuplicateEntry)
}

func TestSQLiteStorage_GetInvoiceNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetInvoiceByUUID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_GetUnmatchedInvoices(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Transaction{
			testTransaction("acme", "t1", "-1850.00", testDay),
			testTransaction("acme", "t2", "-500.00", testDay),
		},
		[]model.Invoice{
			testInvoice("acme", "i1", "1850.00", testDay),
			testInvoice("acme", "i2", "1000.00", testDay),
			testInvoice("acme", "i3", "75.00", testDay),
			testInvoice("globex", "i4", "75.00", testDay),
		},
	)

	require.NoError(t, store.ApplyMatch(ctx, exactRecord("r1", "t1", "i1", "1850.00")))
	group := &model.InstallmentGroup{ID: "g1", TenantID: "acme", InvoiceID: "i2", Status: model.GroupOpen}
	require.NoError(t, store.ApplyInstallmentGroup(ctx, group, []model.ReconciliationRecord{
		installmentRecord("r2", "t2", "i2", "g1", "500.00"),
	}))

	unmatched, err := store.GetUnmatchedInvoices(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "i3", unmatched[0].ID)
}

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

func exactRecord(id, txnID, invoiceID, amount string) *model.ReconciliationRecord {
	return &model.ReconciliationRecord{
		ID:            id,
		TenantID:      "acme",
		TransactionID: txnID,
		InvoiceID:     invoiceID,
		Method:        model.MethodExact,
		Amount:        decimal.RequireFromString(amount),
		Confidence:    0.95,
	}
}

func installmentRecord(id, txnID, invoiceID, groupID, amount string) model.ReconciliationRecord {
	return model.ReconciliationRecord{
		ID:            id,
		TenantID:      "acme",
		TransactionID: txnID,
		InvoiceID:     invoiceID,
		GroupID:       groupID,
		Method:        model.MethodInstallment,
		Amount:        decimal.RequireFromString(amount),
		Confidence:    0.7,
	}
}

func TestSQLiteStorage_ApplyMatch(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Transaction{
			testTransaction("acme", "t1", "-1850.00", testDay),
			testTransaction("acme", "t2", "-1850.00", testDay),
		},
		[]model.Invoice{
			testInvoice("acme", "i1", "1850.00", testDay),
			testInvoice("acme", "i2", "1850.00", testDay),
		},
	)

	require.NoError(t, store.ApplyMatch(ctx, exactRecord("r1", "t1", "i1", "1850.00")))

	records, err := store.GetActiveRecords(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "t1", records[0].TransactionID)
	assert.True(t, records[0].Active)
	assert.Empty(t, records[0].GroupID)
	assert.False(t, records[0].AppliedAt.IsZero())

	t.Run("transaction already matched", func(t *testing.T) {
		err := store.ApplyMatch(ctx, exactRecord("r2", "t1", "i2", "1850.00"))
		assert.ErrorIs(t, err, common.ErrInvariantViolation)
	})

	t.Run("invoice already matched", func(t *testing.T) {
		err := store.ApplyMatch(ctx, exactRecord("r3", "t2", "i1", "1850.00"))
		assert.ErrorIs(t, err, common.ErrInvariantViolation)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		err := store.ApplyMatch(ctx, exactRecord("r4", "nope", "i2", "1850.00"))
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	records, err = store.GetActiveRecords(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLiteStorage_ApplyMatchCrossTenant(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Transaction{testTransaction("acme", "t1", "-10.00", testDay)},
		[]model.Invoice{testInvoice("globex", "i1", "10.00", testDay)},
	)

	err := store.ApplyMatch(ctx, exactRecord("r1", "t1", "i1", "10.00"))
	assert.ErrorIs(t, err, common.ErrInvariantViolation)
}

func TestSQLiteStorage_ApplyMatchCancelledInvoice(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	inv := testInvoice("acme", "i1", "10.00", testDay)
	inv.Status = model.InvoiceStatusCancelled
	seed(t, store, []model.Transaction{testTransaction("acme", "t1", "-10.00", testDay)}, []model.Invoice{inv})

	err := store.ApplyMatch(ctx, exactRecord("r1", "t1", "i1", "10.00"))
	assert.ErrorIs(t, err, common.ErrInvariantViolation)
}

func TestSQLiteStorage_ApplyInstallmentGroup(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Transaction{
			testTransaction("acme", "t1", "-12000.00", testDay),
			testTransaction("acme", "t2", "-12000.00", testDay.AddDate(0, 1, 0)),
			testTransaction("acme", "t3", "-12000.00", testDay.AddDate(0, 2, 0)),
			testTransaction("acme", "t4", "-12000.00", testDay.AddDate(0, 3, 0)),
			testTransaction("acme", "t5", "-12000.00", testDay.AddDate(0, 4, 0)),
		},
		[]model.Invoice{testInvoice("acme", "i1", "48000.00", testDay)},
	)

	group := &model.InstallmentGroup{ID: "g1", TenantID: "acme", InvoiceID: "i1", Status: model.GroupOpen}
	require.NoError(t, store.ApplyInstallmentGroup(ctx, group, []model.ReconciliationRecord{
		installmentRecord("r2", "t2", "i1", "g1", "12000.00"),
		installmentRecord("r1", "t1", "i1", "g1", "12000.00"),
	}))
	assert.Equal(t, "24000", group.MatchedTotal.String())
	assert.True(t, group.FirstDate.Equal(testDay))

	// Continue the open group until it is complete
	group.Status = model.GroupComplete
	require.NoError(t, store.ApplyInstallmentGroup(ctx, group, []model.ReconciliationRecord{
		installmentRecord("r3", "t3", "i1", "g1", "12000.00"),
		installmentRecord("r4", "t4", "i1", "g1", "12000.00"),
	}))

	groups, err := store.GetInstallmentGroups(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, model.GroupComplete, groups[0].Status)
	assert.Equal(t, []string{"t1", "t2", "t3", "t4"}, groups[0].TransactionIDs)
	assert.True(t, groups[0].MatchedTotal.Equal(groups[0].InvoiceTotal))
	assert.True(t, groups[0].Remaining().IsZero())

	open, err := store.GetOpenInstallmentGroups(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, open)

	t.Run("exceeding the total is rejected", func(t *testing.T) {
		err := store.ApplyInstallmentGroup(ctx, group, []model.ReconciliationRecord{
			installmentRecord("r5", "t5", "i1", "g1", "12000.00"),
		})
		assert.ErrorIs(t, err, common.ErrInvariantViolation)

		unmatched, err := store.GetUnmatchedTransactions(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, unmatched, 1)
		assert.Equal(t, "t5", unmatched[0].ID)
	})

	t.Run("single match on grouped invoice is rejected", func(t *testing.T) {
		err := store.ApplyMatch(ctx, exactRecord("r6", "t5", "i1", "12000.00"))
		assert.ErrorIs(t, err, common.ErrInvariantViolation)
	})
}

func TestSQLiteStorage_ApplyInstallmentGroupRejectsPrematureCompletion(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Transaction{testTransaction("acme", "t1", "-12000.00", testDay)},
		[]model.Invoice{testInvoice("acme", "i1", "48000.00", testDay)},
	)

	group := &model.InstallmentGroup{ID: "g1", TenantID: "acme", InvoiceID: "i1", Status: model.GroupComplete}
	err := store.ApplyInstallmentGroup(ctx, group, []model.ReconciliationRecord{
		installmentRecord("r1", "t1", "i1", "g1", "12000.00"),
	})
	assert.ErrorIs(t, err, common.ErrInvariantViolation)

	// Rolled back entirely
	groups, err := store.GetInstallmentGroups(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSQLiteStorage_ApplyInstallmentGroupSecondGroup(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Transaction{
			testTransaction("acme", "t1", "-500.00", testDay),
			testTransaction("acme", "t2", "-500.00", testDay),
		},
		[]model.Invoice{testInvoice("acme", "i1", "2000.00", testDay)},
	)

	first := &model.InstallmentGroup{ID: "g1", TenantID: "acme", InvoiceID: "i1", Status: model.GroupOpen}
	require.NoError(t, store.ApplyInstallmentGroup(ctx, first, []model.ReconciliationRecord{
		installmentRecord("r1", "t1", "i1", "g1", "500.00"),
	}))

	second := &model.InstallmentGroup{ID: "g2", TenantID: "acme", InvoiceID: "i1", Status: model.GroupOpen}
	err := store.ApplyInstallmentGroup(ctx, second, []model.ReconciliationRecord{
		installmentRecord("r2", "t2", "i1", "g2", "500.00"),
	})
	assert.ErrorIs(t, err, common.ErrInvariantViolation)
}

func TestSQLiteStorage_AmountTolerance(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	store.SetAmountTolerance(decimal.Zero)

	seed(t, store,
		[]model.Transaction{
			testTransaction("acme", "t1", "-500.00", testDay),
			testTransaction("acme", "t2", "-500.50", testDay),
		},
		[]model.Invoice{testInvoice("acme", "i1", "1000.00", testDay)},
	)

	group := &model.InstallmentGroup{ID: "g1", TenantID: "acme", InvoiceID: "i1", Status: model.GroupOpen}
	err := store.ApplyInstallmentGroup(ctx, group, []model.ReconciliationRecord{
		installmentRecord("r1", "t1", "i1", "g1", "500.00"),
		installmentRecord("r2", "t2", "i1", "g1", "500.50"),
	})
	assert.ErrorIs(t, err, common.ErrInvariantViolation)
}

func TestSQLiteStorage_Unmatch(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Transaction{
			testTransaction("acme", "t1", "-1850.00", testDay),
			testTransaction("acme", "t2", "-600.00", testDay),
		},
		[]model.Invoice{
			testInvoice("acme", "i1", "1850.00", testDay),
			testInvoice("acme", "i2", "1200.00", testDay),
		},
	)
	require.NoError(t, store.ApplyMatch(ctx, exactRecord("r1", "t1", "i1", "1850.00")))
	require.NoError(t, store.Unmatch(ctx, "t1"))

	records, err := store.GetActiveRecords(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, records)

	// The pair can be matched again
	require.NoError(t, store.ApplyMatch(ctx, exactRecord("r1b", "t1", "i1", "1850.00")))

	assert.ErrorIs(t, store.Unmatch(ctx, "t2"), common.ErrNotFound)

	group := &model.InstallmentGroup{ID: "g1", TenantID: "acme", InvoiceID: "i2", Status: model.GroupOpen}
	require.NoError(t, store.ApplyInstallmentGroup(ctx, group, []model.ReconciliationRecord{
		installmentRecord("r2", "t2", "i2", "g1", "600.00"),
	}))
	var userErr *common.UserError
	assert.ErrorAs(t, store.Unmatch(ctx, "t2"), &userErr)
}

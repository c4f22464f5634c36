package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

func newTestEngine(t *testing.T, store *storage.SQLiteStorage, now string) *Engine {
	t.Helper()
	engine, err := NewEngine(store, DefaultConfig())
	require.NoError(t, err)
	clock := testutil.Date(now)
	engine.SetClock(func() time.Time { return clock })
	return engine
}

func TestEngine_SingleMatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-01-29", "-1850.00", "SPEI PAPELERIA LA ESTRELLA").
		WithInvoice(testutil.Inv("i1", "2025-01-29", "1850.00").
			Counterpart("PLE010101AB1", "Papelería La Estrella SA de CV")))

	engine := newTestEngine(t, db.Storage, "2025-02-01")
	report, err := engine.Reconcile(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, report.Applied, 1)
	rec := report.Applied[0]
	assert.Equal(t, "t1", rec.TransactionID)
	assert.Equal(t, "i1", rec.InvoiceID)
	assert.Equal(t, model.MethodExact, rec.Method)
	assert.GreaterOrEqual(t, rec.Confidence, engine.Config().AutoApplyThreshold)
	assert.Empty(t, report.Pending)
	assert.Empty(t, report.PendingInvoices)
	assert.Equal(t, "1850", report.Stats.AppliedAmount.String())

	records, err := db.Storage.GetActiveRecords(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEngine_TwentyIdenticalPayments(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ledger := testutil.NewLedger(t, "acme")
	for i := 1; i <= 20; i++ {
		ledger.WithTransaction(fmt.Sprintf("t%02d", i), "2025-01-29", "-1850.00",
			fmt.Sprintf("SPEI PAPELERIA LA ESTRELLA REF %04d", i))
		ledger.WithInvoice(testutil.Inv(fmt.Sprintf("i%02d", i), "2025-01-29", "1850.00").
			Counterpart("PLE010101AB1", "Papelería La Estrella SA de CV"))
	}
	db.Seed(ledger)

	engine := newTestEngine(t, db.Storage, "2025-02-01")
	report, err := engine.Reconcile(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, report.Applied, 20)
	assert.Empty(t, report.Pending)
	assert.Empty(t, report.Failures)

	invoices := make(map[string]string)
	for _, rec := range report.Applied {
		prev, dup := invoices[rec.InvoiceID]
		assert.False(t, dup, "invoice %s matched by %s and %s", rec.InvoiceID, prev, rec.TransactionID)
		invoices[rec.InvoiceID] = rec.TransactionID
	}
	assert.Len(t, invoices, 20)
	assert.True(t, report.Stats.AppliedAmount.Equal(testutil.Dec("37000.00")))

	// Lowest transaction takes lowest invoice
	assert.Equal(t, "t01", invoices["i01"])
	assert.Equal(t, "t20", invoices["i20"])
}

func TestEngine_InstallmentGroup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("p1", "2025-01-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithTransaction("p2", "2025-02-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithTransaction("p3", "2025-03-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithTransaction("p4", "2025-04-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithInvoice(testutil.Inv("inv-laptops", "2025-01-15", "48000.00").
			Counterpart("CNO050505XY9", "Computadoras del Norte SA de CV")))

	engine := newTestEngine(t, db.Storage, "2025-05-01")
	report, err := engine.Reconcile(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	group := report.Groups[0]
	assert.Equal(t, model.GroupComplete, group.Status)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, group.TransactionIDs)
	assert.True(t, group.MatchedTotal.Equal(testutil.Dec("48000")))
	assert.Len(t, report.Applied, 4)
	assert.Empty(t, report.Pending)
	assert.Equal(t, 1, report.Stats.GroupsComplete)

	stored, err := db.Storage.GetInstallmentGroups(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Remaining().Abs().LessThanOrEqual(engine.Config().AmountTolerance))
}

func TestEngine_InstallmentGroupContinuesAcrossRuns(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("p1", "2025-01-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithTransaction("p2", "2025-02-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithInvoice(testutil.Inv("inv-laptops", "2025-01-15", "48000.00").
			Counterpart("CNO050505XY9", "Computadoras del Norte SA de CV")))

	ctx := context.Background()
	first, err := newTestEngine(t, db.Storage, "2025-03-01").Reconcile(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, first.Groups, 1)
	assert.Equal(t, model.GroupOpen, first.Groups[0].Status)
	assert.Empty(t, first.PendingInvoices)
	require.Len(t, first.OpenGroups, 1)
	assert.Equal(t, first.Groups[0].ID, first.OpenGroups[0].ID)

	idle, err := newTestEngine(t, db.Storage, "2025-03-05").Reconcile(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, idle.Groups)
	assert.Empty(t, idle.Applied)
	require.Len(t, idle.OpenGroups, 1)
	assert.Equal(t, first.Groups[0].ID, idle.OpenGroups[0].ID)
	assert.Equal(t, "inv-laptops", idle.OpenGroups[0].InvoiceID)
	assert.Equal(t, "24000.00", idle.OpenGroups[0].MatchedTotal.StringFixed(2))
	assert.Equal(t, []string{"p1", "p2"}, idle.OpenGroups[0].TransactionIDs)

	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("p3", "2025-03-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithTransaction("p4", "2025-04-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI"))

	second, err := newTestEngine(t, db.Storage, "2025-05-01").Reconcile(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, second.Groups, 1)
	assert.Equal(t, first.Groups[0].ID, second.Groups[0].ID)
	assert.Equal(t, model.GroupComplete, second.Groups[0].Status)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, second.Groups[0].TransactionIDs)
	assert.Len(t, second.Applied, 2)
	assert.Empty(t, second.OpenGroups)
}

func TestStillOpen(t *testing.T) {
	loaded := []model.InstallmentGroup{
		{ID: "g2", InvoiceID: "inv-b", Status: model.GroupOpen},
		{ID: "g1", InvoiceID: "inv-a", Status: model.GroupOpen},
	}
	touched := []model.InstallmentGroup{
		{ID: "g2", InvoiceID: "inv-b", Status: model.GroupComplete},
		{ID: "g3", InvoiceID: "inv-c", Status: model.GroupOpen},
		{ID: "g4", InvoiceID: "inv-d", Status: model.GroupIncomplete},
	}

	got := stillOpen(loaded, touched)

	assert.Equal(t, []string{"g1", "g3"}, lo.Map(got, func(g model.InstallmentGroup, _ int) string { return g.ID }))
}

func TestEngine_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-01-29", "-1850.00", "SPEI PAPELERIA LA ESTRELLA").
		WithTransaction("t2", "2025-01-30", "-77.00", "OXXO").
		WithTransaction("p1", "2025-01-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithTransaction("p2", "2025-02-20", "-12000.00", "COMPUTADORAS DEL NORTE MSI").
		WithInvoice(testutil.Inv("i1", "2025-01-29", "1850.00").Counterpart("PLE010101AB1", "Papelería La Estrella")).
		WithInvoice(testutil.Inv("i2", "2025-01-10", "999.00").Counterpart("", "Ferreteria Lopez")).
		WithInvoice(testutil.Inv("inv-laptops", "2025-01-15", "48000.00").Counterpart("CNO050505XY9", "Computadoras del Norte")))

	ctx := context.Background()
	engine := newTestEngine(t, db.Storage, "2025-03-01")

	first, err := engine.Reconcile(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, first.Applied, 3)

	before, err := db.Storage.GetActiveRecords(ctx, "acme")
	require.NoError(t, err)

	second, err := engine.Reconcile(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, second.Applied)
	assert.Empty(t, second.Groups)
	require.Len(t, second.Pending, 1)
	assert.Equal(t, "t2", second.Pending[0].Transaction.ID)
	assert.ErrorIs(t, second.Pending[0].Reason, common.ErrNoCandidateFound)

	after, err := db.Storage.GetActiveRecords(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngine_AmbiguousMatchIsPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-01-29", "-1850.00", "PAPELERIA LA ESTRELLA").
		WithInvoice(testutil.Inv("i1", "2025-01-29", "1850.00").Counterpart("PLE010101AB1", "Papelería La Estrella")).
		WithInvoice(testutil.Inv("i2", "2025-01-29", "1850.00").Counterpart("PLE020202CD2", "Papelería La Estrella")))

	report, err := newTestEngine(t, db.Storage, "2025-02-01").Reconcile(context.Background(), "acme")
	require.NoError(t, err)

	assert.Empty(t, report.Applied)
	require.Len(t, report.Pending, 1)
	pending := report.Pending[0]
	assert.ErrorIs(t, pending.Reason, common.ErrAmbiguousMatch)
	require.Len(t, pending.Candidates, 2)
	assert.Equal(t, "i1", pending.Candidates[0].InvoiceID)
	assert.Len(t, report.PendingInvoices, 2)
	assert.Equal(t, 1, report.Stats.Ambiguous)
}

func TestEngine_BelowThresholdIsPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-03-01", "-500.90", "UBER TRIP").
		WithInvoice(testutil.Inv("i1", "2025-01-20", "500.00").Counterpart("", "Papelería La Estrella")))

	report, err := newTestEngine(t, db.Storage, "2025-03-02").Reconcile(context.Background(), "acme")
	require.NoError(t, err)

	assert.Empty(t, report.Applied)
	require.Len(t, report.Pending, 1)
	assert.ErrorIs(t, report.Pending[0].Reason, ErrBelowThreshold)
	require.Len(t, report.Pending[0].Candidates, 1)
	assert.Equal(t, 1, report.Stats.BelowThreshold)
}

func TestEngine_TenantIsolation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-01-29", "-1850.00", "PAPELERIA LA ESTRELLA"))
	db.Seed(testutil.NewLedger(t, "globex").
		WithInvoice(testutil.Inv("i1", "2025-01-29", "1850.00").Counterpart("PLE010101AB1", "Papelería La Estrella")))

	engine := newTestEngine(t, db.Storage, "2025-02-01")
	reports, err := engine.ReconcileAll(context.Background(), []string{"globex", "acme"}, nil)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "acme", reports[0].TenantID)
	assert.Equal(t, "globex", reports[1].TenantID)

	for _, r := range reports {
		assert.Empty(t, r.Applied)
	}
	assert.Len(t, reports[0].Pending, 1)
	assert.Len(t, reports[1].PendingInvoices, 1)
}

// rejectingStore refuses single matches for chosen transactions.
type rejectingStore struct {
	*storage.SQLiteStorage
	reject map[string]bool
}

func (s *rejectingStore) ApplyMatch(ctx context.Context, record *model.ReconciliationRecord) error {
	if s.reject[record.TransactionID] {
		return common.NewInvariantError(record.TransactionID, "already matched elsewhere")
	}
	return s.SQLiteStorage.ApplyMatch(ctx, record)
}

func TestEngine_InvariantViolationDoesNotAbortBatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-01-29", "-1850.00", "PAPELERIA LA ESTRELLA").
		WithTransaction("t2", "2025-01-30", "-320.00", "FERRETERIA LOPEZ").
		WithInvoice(testutil.Inv("i1", "2025-01-29", "1850.00").Counterpart("PLE010101AB1", "Papelería La Estrella")).
		WithInvoice(testutil.Inv("i2", "2025-01-30", "320.00").Counterpart("", "Ferretería López")))

	store := &rejectingStore{SQLiteStorage: db.Storage, reject: map[string]bool{"t1": true}}
	engine, err := NewEngine(store, DefaultConfig())
	require.NoError(t, err)

	report, err := engine.Reconcile(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "t1", report.Failures[0].TransactionID)
	assert.ErrorIs(t, report.Failures[0].Err, common.ErrInvariantViolation)
	require.Len(t, report.Applied, 1)
	assert.Equal(t, "t2", report.Applied[0].TransactionID)
}

func TestEngine_CancelledContext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-01-29", "-1850.00", "PAPELERIA LA ESTRELLA").
		WithInvoice(testutil.Inv("i1", "2025-01-29", "1850.00").Counterpart("PLE010101AB1", "Papelería La Estrella")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(t, db.Storage, "2025-02-01").Reconcile(ctx, "acme")
	require.Error(t, err)

	records, err := db.Storage.GetActiveRecords(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEngine_ConcurrentRunsOnSameTenant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ledger := testutil.NewLedger(t, "acme")
	for i := 1; i <= 10; i++ {
		ledger.WithTransaction(fmt.Sprintf("t%02d", i), "2025-01-29", "-1850.00", "PAPELERIA LA ESTRELLA")
		ledger.WithInvoice(testutil.Inv(fmt.Sprintf("i%02d", i), "2025-01-29", "1850.00").
			Counterpart("PLE010101AB1", "Papelería La Estrella"))
	}
	db.Seed(ledger)

	engine := newTestEngine(t, db.Storage, "2025-02-01")
	reports, err := engine.ReconcileAll(context.Background(), []string{"acme", "acme", "acme"}, nil)
	require.NoError(t, err)

	applied := 0
	for _, r := range reports {
		applied += len(r.Applied)
		assert.Empty(t, r.Failures)
	}
	assert.Equal(t, 10, applied)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoApplyThreshold = 0
	_, err := NewEngine(nil, cfg)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

func outflow(id, date, amount, description string) *model.Transaction {
	return &model.Transaction{
		ID:          id,
		TenantID:    "acme",
		AccountID:   "bbva-001",
		Date:        testutil.Date(date),
		Description: description,
		Amount:      testutil.Dec(amount).Neg(),
	}
}

func invoiceIDs(invoices []model.Invoice) []string {
	ids := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	return ids
}

func TestGenerateCandidates_AmountBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AmountTolerance = decimal.RequireFromString("1.00")

	txn := outflow("t1", "2025-01-29", "1850.00", "PAPELERIA LA ESTRELLA")
	invoices := []model.Invoice{
		testutil.Inv("at-boundary", "2025-01-29", "1851.00").Build("acme"),
		testutil.Inv("beyond", "2025-01-29", "1851.01").Build("acme"),
		testutil.Inv("below-boundary", "2025-01-29", "1849.00").Build("acme"),
		testutil.Inv("below-beyond", "2025-01-29", "1848.99").Build("acme"),
	}

	got := GenerateCandidates(txn, invoices, cfg)
	assert.Equal(t, []string{"at-boundary", "below-boundary"}, invoiceIDs(got))
}

func TestGenerateCandidates_Filters(t *testing.T) {
	cfg := DefaultConfig()
	txn := outflow("t1", "2025-03-01", "500.00", "PAGO")

	tests := []struct {
		name    string
		invoice model.Invoice
		want    bool
	}{
		{name: "same day", invoice: testutil.Inv("i", "2025-03-01", "500.00").Build("acme"), want: true},
		{name: "issued 45 days before payment", invoice: testutil.Inv("i", "2025-01-15", "500.00").Build("acme"), want: true},
		{name: "issued 46 days before payment", invoice: testutil.Inv("i", "2025-01-14", "500.00").Build("acme"), want: false},
		{name: "issued 5 days after payment", invoice: testutil.Inv("i", "2025-03-06", "500.00").Build("acme"), want: true},
		{name: "issued 6 days after payment", invoice: testutil.Inv("i", "2025-03-07", "500.00").Build("acme"), want: false},
		{name: "other tenant", invoice: testutil.Inv("i", "2025-03-01", "500.00").Build("globex"), want: false},
		{name: "cancelled", invoice: testutil.Inv("i", "2025-03-01", "500.00").Cancelled().Build("acme"), want: false},
		{name: "issued invoice cannot absorb an outflow", invoice: testutil.Inv("i", "2025-03-01", "500.00").Issued().Build("acme"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateCandidates(txn, []model.Invoice{tt.invoice}, cfg)
			assert.Equal(t, tt.want, len(got) == 1)
		})
	}
}

func TestGenerateCandidates_InflowMatchesIssued(t *testing.T) {
	txn := outflow("t1", "2025-03-01", "500.00", "CLIENTE")
	txn.Amount = txn.Amount.Neg()

	invoices := []model.Invoice{
		testutil.Inv("received", "2025-03-01", "500.00").Build("acme"),
		testutil.Inv("issued", "2025-03-01", "500.00").Issued().Build("acme"),
	}
	assert.Equal(t, []string{"issued"}, invoiceIDs(GenerateCandidates(txn, invoices, DefaultConfig())))
}

func TestGenerateCandidates_EmptyIsNotAnError(t *testing.T) {
	txn := outflow("t1", "2025-03-01", "500.00", "PAGO")
	assert.Empty(t, GenerateCandidates(txn, nil, DefaultConfig()))
}

func TestGenerateCandidates_OrderedByID(t *testing.T) {
	txn := outflow("t1", "2025-03-01", "500.00", "PAGO")
	invoices := []model.Invoice{
		testutil.Inv("i3", "2025-03-01", "500.00").Build("acme"),
		testutil.Inv("i1", "2025-02-20", "500.00").Build("acme"),
		testutil.Inv("i2", "2025-03-01", "500.50").Build("acme"),
	}
	assert.Equal(t, []string{"i1", "i2", "i3"}, invoiceIDs(GenerateCandidates(txn, invoices, DefaultConfig())))
}

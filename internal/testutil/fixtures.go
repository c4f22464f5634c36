package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Date parses a YYYY-MM-DD date in UTC or panics.
func Date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

// Dec parses a decimal or panics.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// InvoiceBuilder builds a test invoice fluently.
type InvoiceBuilder struct {
	inv model.Invoice
}

// Inv starts a received, valid invoice with the given ID, issue date and total.
func Inv(id, date, total string) *InvoiceBuilder {
	return &InvoiceBuilder{inv: model.Invoice{
		ID:        id,
		UUID:      "uuid-" + id,
		Kind:      model.InvoiceReceived,
		Status:    model.InvoiceStatusValid,
		IssueDate: Date(date),
		Total:     Dec(total),
	}}
}

// Issued marks the invoice as issued by the tenant.
func (b *InvoiceBuilder) Issued() *InvoiceBuilder {
	b.inv.Kind = model.InvoiceIssued
	return b
}

// Cancelled marks the invoice as cancelled.
func (b *InvoiceBuilder) Cancelled() *InvoiceBuilder {
	b.inv.Status = model.InvoiceStatusCancelled
	return b
}

// Counterpart sets the counterpart RFC and name.
func (b *InvoiceBuilder) Counterpart(rfc, name string) *InvoiceBuilder {
	b.inv.CounterpartRFC = rfc
	b.inv.CounterpartName = name
	return b
}

// Usage sets the declared UsoCFDI code.
func (b *InvoiceBuilder) Usage(code string) *InvoiceBuilder {
	b.inv.UsageCode = code
	return b
}

// Line appends a line item with quantity 1.
func (b *InvoiceBuilder) Line(description, amount string) *InvoiceBuilder {
	b.inv.LineItems = append(b.inv.LineItems, model.LineItem{
		Description: description,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   Dec(amount),
	})
	return b
}

// Build returns the invoice for the given tenant.
func (b *InvoiceBuilder) Build(tenant string) model.Invoice {
	inv := b.inv
	inv.TenantID = tenant
	inv.LineItems = append([]model.LineItem(nil), b.inv.LineItems...)
	return inv
}

// Ledger accumulates the transactions and invoices of one tenant.
type Ledger struct {
	t            *testing.T
	Tenant       string
	Transactions []model.Transaction
	Invoices     []model.Invoice
}

// NewLedger starts an empty ledger for a tenant.
func NewLedger(t *testing.T, tenant string) *Ledger {
	t.Helper()
	return &Ledger{t: t, Tenant: tenant}
}

// WithTransaction adds a transaction. Negative amounts are outflows.
func (l *Ledger) WithTransaction(id, date, amount, description string) *Ledger {
	txn := model.Transaction{
		ID:          id,
		TenantID:    l.Tenant,
		AccountID:   "bbva-001",
		Date:        Date(date),
		Description: description,
		Amount:      Dec(amount),
	}
	txn.Hash = txn.GenerateHash()
	l.Transactions = append(l.Transactions, txn)
	return l
}

// WithInvoice adds an invoice.
func (l *Ledger) WithInvoice(b *InvoiceBuilder) *Ledger {
	l.Invoices = append(l.Invoices, b.Build(l.Tenant))
	return l
}

// Seed writes the ledger into storage or fails the test.
func (l *Ledger) Seed(s service.Storage) {
	l.t.Helper()
	ctx := context.Background()
	if len(l.Transactions) > 0 {
		if err := s.SaveTransactions(ctx, l.Transactions); err != nil {
			l.t.Fatalf("failed to seed transactions: %v", err)
		}
	}
	if len(l.Invoices) > 0 {
		if err := s.SaveInvoices(ctx, l.Invoices); err != nil {
			l.t.Fatalf("failed to seed invoices: %v", err)
		}
	}
}

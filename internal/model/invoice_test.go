package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestInvoice_AcceptsDirection(t *testing.T) {
	tests := []struct {
		name    string
		kind    InvoiceKind
		outflow bool
		want    bool
	}{
		{name: "received invoice paid by outflow", kind: InvoiceReceived, outflow: true, want: true},
		{name: "received invoice with inflow", kind: InvoiceReceived, outflow: false, want: false},
		{name: "issued invoice collected by inflow", kind: InvoiceIssued, outflow: false, want: true},
		{name: "issued invoice with outflow", kind: InvoiceIssued, outflow: true, want: false},
		{name: "unknown kind accepts outflow", kind: "", outflow: true, want: true},
		{name: "unknown kind accepts inflow", kind: "", outflow: false, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := Invoice{Kind: tt.kind}
			assert.Equal(t, tt.want, inv.AcceptsDirection(tt.outflow))
		})
	}
}

func TestInvoice_Content(t *testing.T) {
	inv := Invoice{
		CounterpartName: "Computadoras del Norte",
		LineItems: []LineItem{
			{Description: "Laptop Dell Latitude 5440", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(25000)},
			{Description: "  "},
			{Description: "Envio"},
		},
	}
	assert.Equal(t, "Laptop Dell Latitude 5440; Envio; Computadoras del Norte", inv.Content())
	assert.True(t, inv.LineItems[0].Amount().Equal(decimal.NewFromInt(25000)))
}

func TestTransaction_GenerateHash(t *testing.T) {
	txn := Transaction{
		TenantID:    "acme",
		Date:        time.Date(2025, 1, 29, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("-1850.00"),
		Description: "SPEI PAPELERIA LA ESTRELLA",
		AccountID:   "bbva-001",
	}
	other := txn
	other.TenantID = "globex"

	assert.Equal(t, txn.GenerateHash(), txn.GenerateHash())
	assert.NotEqual(t, txn.GenerateHash(), other.GenerateHash())
	assert.True(t, txn.IsOutflow())
	assert.Equal(t, "1850", txn.AbsAmount().String())
}

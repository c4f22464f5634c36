package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func TestDecodeInvoices(t *testing.T) {
	t.Run("object with invoices", func(t *testing.T) {
		input := `{"invoices": [{
			"uuid": "6f1c2b1e-0000-4a4b-9c1d-000000000001",
			"issue_date": "2025-01-29T10:15:00",
			"kind": "recibida",
			"status": "Vigente",
			"rfc": "ple010101ab1",
			"name": "Papelería La Estrella SA de CV",
			"usage": "g03",
			"total": "1850.00",
			"items": [
				{"description": "Hojas carta", "quantity": "10", "unit_price": "150.00"},
				{"description": "Toner", "unit_price": 350}
			]
		}]}`

		invoices, err := DecodeInvoices(strings.NewReader(input), "acme")
		require.NoError(t, err)
		require.Len(t, invoices, 1)

		inv := invoices[0]
		assert.Equal(t, "6F1C2B1E-0000-4A4B-9C1D-000000000001", inv.UUID)
		assert.Equal(t, inv.UUID, inv.ID)
		assert.Equal(t, "acme", inv.TenantID)
		assert.Equal(t, model.InvoiceReceived, inv.Kind)
		assert.Equal(t, model.InvoiceStatusValid, inv.Status)
		assert.Equal(t, "PLE010101AB1", inv.CounterpartRFC)
		assert.Equal(t, "G03", inv.UsageCode)
		assert.Equal(t, "2025-01-29", inv.IssueDate.Format("2006-01-02"))
		assert.True(t, inv.Total.Equal(inv.LineItems[0].Amount().Add(inv.LineItems[1].Amount())))
		assert.Equal(t, "1", inv.LineItems[1].Quantity.String())
	})

	t.Run("bare array", func(t *testing.T) {
		input := `[{"id": "F-1", "uuid": "u1", "issue_date": "2025-02-01", "kind": "emitida", "status": "cancelado", "total": 100}]`

		invoices, err := DecodeInvoices(strings.NewReader(input), "acme")
		require.NoError(t, err)
		require.Len(t, invoices, 1)
		assert.Equal(t, "F-1", invoices[0].ID)
		assert.Equal(t, model.InvoiceIssued, invoices[0].Kind)
		assert.True(t, invoices[0].IsCancelled())
	})

	errorCases := []struct {
		name  string
		input string
	}{
		{"missing uuid", `[{"issue_date": "2025-02-01", "total": 1}]`},
		{"bad date", `[{"uuid": "u1", "issue_date": "01/02/2025", "total": 1}]`},
		{"bad kind", `[{"uuid": "u1", "issue_date": "2025-02-01", "kind": "nomina", "total": 1}]`},
		{"bad json", `{"invoices": [`},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeInvoices(strings.NewReader(tc.input), "acme")
			assert.Error(t, err)
		})
	}

	t.Run("tenant required", func(t *testing.T) {
		_, err := DecodeInvoices(strings.NewReader(`[]`), "")
		assert.Error(t, err)
	})
}

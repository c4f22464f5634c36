// Package ingest decodes normalized CFDI exports into invoices.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// invoiceRecord is one CFDI as exported by the tax-authority downloader.
type invoiceRecord struct {
	ID        string          `json:"id"`
	UUID      string          `json:"uuid"`
	IssueDate string          `json:"issue_date"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	RFC       string          `json:"rfc"`
	Name      string          `json:"name"`
	Usage     string          `json:"usage"`
	Total     decimal.Decimal `json:"total"`
	Items     []itemRecord    `json:"items"`
}

type itemRecord struct {
	Description string           `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
}

type invoiceFile struct {
	Invoices []invoiceRecord `json:"invoices"`
}

// dateLayouts are tried in order; CFDI timestamps carry no zone.
var dateLayouts = []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339}

// DecodeInvoices reads either a JSON array of invoices or an object with an
// "invoices" array, and assigns them to the tenant.
func DecodeInvoices(r io.Reader, tenantID string) ([]model.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read invoices: %w", err)
	}

	var records []invoiceRecord
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &records)
	} else {
		var file invoiceFile
		err = json.Unmarshal(trimmed, &file)
		records = file.Invoices
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode invoices: %w", err)
	}

	invoices := make([]model.Invoice, 0, len(records))
	for i, rec := range records {
		inv, err := rec.toInvoice(tenantID)
		if err != nil {
			return nil, fmt.Errorf("invoice %d: %w", i, err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (rec invoiceRecord) toInvoice(tenantID string) (model.Invoice, error) {
	uuid := strings.ToUpper(strings.TrimSpace(rec.UUID))
	if uuid == "" {
		return model.Invoice{}, fmt.Errorf("missing uuid")
	}

	issued, err := parseDate(rec.IssueDate)
	if err != nil {
		return model.Invoice{}, err
	}

	kind, err := parseKind(rec.Kind)
	if err != nil {
		return model.Invoice{}, err
	}

	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = uuid
	}

	inv := model.Invoice{
		ID:              id,
		UUID:            uuid,
		TenantID:        tenantID,
		IssueDate:       issued,
		Kind:            kind,
		Status:          parseStatus(rec.Status),
		CounterpartRFC:  strings.ToUpper(strings.TrimSpace(rec.RFC)),
		CounterpartName: strings.TrimSpace(rec.Name),
		UsageCode:       strings.ToUpper(strings.TrimSpace(rec.Usage)),
		Total:           rec.Total,
	}
	for _, item := range rec.Items {
		qty := decimal.NewFromInt(1)
		if item.Quantity != nil {
			qty = *item.Quantity
		}
		inv.LineItems = append(inv.LineItems, model.LineItem{
			Description: strings.TrimSpace(item.Description),
			Quantity:    qty,
			UnitPrice:   item.UnitPrice,
		})
	}
	return inv, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid issue date %q", s)
}

func parseKind(s string) (model.InvoiceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "received", "recibida", "":
		return model.InvoiceReceived, nil
	case "issued", "emitida":
		return model.InvoiceIssued, nil
	default:
		return "", fmt.Errorf("unknown invoice kind %q", s)
	}
}

func parseStatus(s string) model.InvoiceStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vigente", "valid":
		return model.InvoiceStatusValid
	case "cancelado", "cancelled", "canceled":
		return model.InvoiceStatusCancelled
	default:
		return model.InvoiceStatusUnknown
	}
}

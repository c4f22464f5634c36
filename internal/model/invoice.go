package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceKind tells which side of the invoice the tenant is on.
type InvoiceKind string

// Invoice kinds.
const (
	// InvoiceReceived is an invoice issued to the tenant (the tenant pays it).
	InvoiceReceived InvoiceKind = "received"
	// InvoiceIssued is an invoice issued by the tenant (the tenant gets paid).
	InvoiceIssued InvoiceKind = "issued"
)

// InvoiceStatus mirrors the validation status reported by the tax authority.
type InvoiceStatus string

// Invoice statuses.
const (
	InvoiceStatusValid     InvoiceStatus = "vigente"
	InvoiceStatusCancelled InvoiceStatus = "cancelado"
	InvoiceStatusUnknown   InvoiceStatus = ""
)

// LineItem is a single concept line of an invoice.
type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Amount returns quantity times unit price.
func (l LineItem) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Invoice is a normalized CFDI record.
type Invoice struct {
	IssueDate       time.Time
	ID              string
	UUID            string // Folio fiscal, unique across all tenants
	TenantID        string
	Kind            InvoiceKind
	Status          InvoiceStatus
	CounterpartRFC  string
	CounterpartName string
	UsageCode       string // Declared UsoCFDI, e.g. G03
	Total           decimal.Decimal
	LineItems       []LineItem
}

// IsCancelled reports whether the tax authority cancelled the invoice.
func (i *Invoice) IsCancelled() bool {
	return i.Status == InvoiceStatusCancelled
}

// Content returns the free text used as semantic evidence for classification.
func (i *Invoice) Content() string {
	parts := make([]string, 0, len(i.LineItems)+1)
	for _, item := range i.LineItems {
		if d := strings.TrimSpace(item.Description); d != "" {
			parts = append(parts, d)
		}
	}
	if name := strings.TrimSpace(i.CounterpartName); name != "" {
		parts = append(parts, name)
	}
	return strings.Join(parts, "; ")
}

// AcceptsDirection reports whether a transaction with the given sign can settle this invoice.
// Outflows settle received invoices, inflows settle issued ones. Invoices with an
// unknown kind accept both.
func (i *Invoice) AcceptsDirection(outflow bool) bool {
	switch i.Kind {
	case InvoiceReceived:
		return outflow
	case InvoiceIssued:
		return !outflow
	default:
		return true
	}
}

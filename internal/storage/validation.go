package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Validation errors.
var (
	ErrNilContext            = errors.New("context cannot be nil")
	ErrEmptyString           = errors.New("string parameter cannot be empty")
	ErrNilParameter          = errors.New("parameter cannot be nil")
	ErrEmptySlice            = errors.New("slice cannot be empty")
	ErrInvalidTransaction    = errors.New("invalid transaction")
	ErrInvalidInvoice        = errors.New("invalid invoice")
	ErrInvalidRecord         = errors.New("invalid reconciliation record")
	ErrInvalidGroup          = errors.New("invalid installment group")
	ErrInvalidClassification = errors.New("invalid classification")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(txn.Description) == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	if txn.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidTransaction)
	}
	if txn.Amount.IsZero() {
		return fmt.Errorf("%w: zero amount", ErrInvalidTransaction)
	}
	return nil
}

// validateInvoices validates a slice of invoices.
func validateInvoices(invoices []model.Invoice) error {
	if invoices == nil {
		return fmt.Errorf("%w: invoices", ErrNilParameter)
	}
	if len(invoices) == 0 {
		return fmt.Errorf("%w: invoices", ErrEmptySlice)
	}

	for i := range invoices {
		if err := validateInvoice(&invoices[i]); err != nil {
			return fmt.Errorf("invoice at index %d: %w", i, err)
		}
	}
	return nil
}

// validateInvoice validates a single invoice.
func validateInvoice(inv *model.Invoice) error {
	if inv == nil {
		return fmt.Errorf("%w: invoice", ErrNilParameter)
	}
	if inv.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidInvoice)
	}
	if strings.TrimSpace(inv.UUID) == "" {
		return fmt.Errorf("%w: missing UUID", ErrInvalidInvoice)
	}
	if inv.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidInvoice)
	}
	if inv.IssueDate.IsZero() {
		return fmt.Errorf("%w: missing issue date", ErrInvalidInvoice)
	}
	if !inv.Total.IsPositive() {
		return fmt.Errorf("%w: total must be positive", ErrInvalidInvoice)
	}
	switch inv.Kind {
	case model.InvoiceReceived, model.InvoiceIssued, "":
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInvoice, inv.Kind)
	}
	return nil
}

// validateRecord validates a reconciliation record before it is applied.
func validateRecord(record *model.ReconciliationRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if record.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRecord)
	}
	if record.TenantID == "" {
		return fmt.Errorf("%w: missing tenant ID", ErrInvalidRecord)
	}
	if record.TransactionID == "" || record.InvoiceID == "" {
		return fmt.Errorf("%w: missing transaction or invoice ID", ErrInvalidRecord)
	}
	switch record.Method {
	case model.MethodExact, model.MethodInstallment:
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidRecord, record.Method)
	}
	if record.Confidence < 0 || record.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidRecord)
	}
	return nil
}

// validateGroup validates an installment group and the records that extend it.
func validateGroup(group *model.InstallmentGroup, records []model.ReconciliationRecord) error {
	if group == nil {
		return fmt.Errorf("%w: group", ErrNilParameter)
	}
	if group.ID == "" || group.TenantID == "" || group.InvoiceID == "" {
		return fmt.Errorf("%w: missing ID, tenant or invoice", ErrInvalidGroup)
	}
	switch group.Status {
	case model.GroupOpen, model.GroupComplete, model.GroupIncomplete:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidGroup, group.Status)
	}
	for i := range records {
		rec := &records[i]
		if err := validateRecord(rec); err != nil {
			return fmt.Errorf("record at index %d: %w", i, err)
		}
		if rec.Method != model.MethodInstallment || rec.GroupID != group.ID || rec.InvoiceID != group.InvoiceID {
			return fmt.Errorf("%w: record %s does not belong to group %s", ErrInvalidGroup, rec.ID, group.ID)
		}
	}
	return nil
}

// validateClassification validates a classification result.
func validateClassification(result *model.ClassificationResult) error {
	if result == nil {
		return fmt.Errorf("%w: classification", ErrNilParameter)
	}
	if result.InvoiceID == "" || result.TenantID == "" {
		return fmt.Errorf("%w: missing invoice or tenant", ErrInvalidClassification)
	}
	if strings.TrimSpace(result.FamilyCode) == "" {
		return fmt.Errorf("%w: missing family code", ErrInvalidClassification)
	}
	if result.AccountCode != "" && result.SubfamilyCode == "" {
		return fmt.Errorf("%w: account code without subfamily", ErrInvalidClassification)
	}
	if result.Override && strings.TrimSpace(result.OverrideReason) == "" {
		return fmt.Errorf("%w: override requires a reason", ErrInvalidClassification)
	}
	for _, c := range []float64{result.FamilyConfidence, result.SubfamilyConfidence, result.AccountConfidence} {
		if c < 0 || c > 1 {
			return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidClassification)
		}
	}
	return nil
}

// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// RecordStore is the contract the reconciliation core requires from persistence.
// Apply methods are atomic: either every row of the match is written or none is.
// Writes that would break a uniqueness or sum invariant fail with
// common.ErrInvariantViolation instead of being ignored.
type RecordStore interface {
	GetUnmatchedTransactions(ctx context.Context, tenantID string) ([]model.Transaction, error)
	GetUnmatchedInvoices(ctx context.Context, tenantID string) ([]model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	GetActiveRecords(ctx context.Context, tenantID string) ([]model.ReconciliationRecord, error)
	GetOpenInstallmentGroups(ctx context.Context, tenantID string) ([]model.InstallmentGroup, error)

	ApplyMatch(ctx context.Context, record *model.ReconciliationRecord) error
	ApplyInstallmentGroup(ctx context.Context, group *model.InstallmentGroup, records []model.ReconciliationRecord) error
}

// ClassificationStore persists classification results.
type ClassificationStore interface {
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	GetInvoiceByUUID(ctx context.Context, uuid string) (*model.Invoice, error)
	GetInvoices(ctx context.Context, tenantID string) ([]model.Invoice, error)
	SaveClassification(ctx context.Context, result *model.ClassificationResult) error
	GetClassification(ctx context.Context, invoiceID string) (*model.ClassificationResult, error)
}

// ContextProvider looks up what a tenant's business does.
type ContextProvider interface {
	GetContext(ctx context.Context, tenantID string) (model.BusinessContext, error)
}

// Storage defines the full contract for our persistence layer.
type Storage interface {
	RecordStore
	ClassificationStore
	ContextProvider

	// Ingestion of normalized records
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	SaveInvoices(ctx context.Context, invoices []model.Invoice) error
	GetTransactions(ctx context.Context, tenantID string) ([]model.Transaction, error)
	ListTenants(ctx context.Context) ([]string, error)

	// Reporting
	GetInstallmentGroups(ctx context.Context, tenantID string) ([]model.InstallmentGroup, error)
	GetClassificationHistory(ctx context.Context, invoiceID string) ([]model.ClassificationResult, error)

	// Manual corrections
	Unmatch(ctx context.Context, transactionID string) error

	// Business context
	SaveContext(ctx context.Context, bc model.BusinessContext) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration // Zero means attempts share the caller's deadline
}

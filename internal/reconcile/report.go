package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// PendingTransaction is a transaction left for human review.
type PendingTransaction struct {
	Reason      error // common.ErrNoCandidateFound, common.ErrAmbiguousMatch or ErrBelowThreshold
	Transaction model.Transaction
	Candidates  []model.MatchCandidate // Best first
}

// Failure is a single record whose persistence was rejected.
type Failure struct {
	Err           error
	TransactionID string
	InvoiceID     string
	GroupID       string
}

// Stats summarizes a reconciliation run.
type Stats struct {
	AppliedAmount  decimal.Decimal
	Transactions   int
	Invoices       int
	Applied        int
	Ambiguous      int
	NoCandidate    int
	BelowThreshold int
	GroupsComplete int
	GroupsOpen     int
	GroupsPartial  int
	GroupsRejected int
	Failures       int
}

// Report is the outcome of reconciling one tenant. It carries enough detail to
// render without re-querying storage.
type Report struct {
	StartedAt       time.Time
	TenantID        string
	Applied         []model.ReconciliationRecord
	Pending         []PendingTransaction
	PendingInvoices []model.Invoice
	Groups          []model.InstallmentGroup // Created or updated during this run
	OpenGroups      []model.InstallmentGroup // Every group still awaiting payments after this run
	Failures        []Failure
	Stats           Stats
	Duration        time.Duration
}

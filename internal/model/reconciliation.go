package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchMethod records how a reconciliation record was produced.
type MatchMethod string

// Match methods.
const (
	MethodExact       MatchMethod = "exact"
	MethodInstallment MatchMethod = "installment"
)

// ScoreBreakdown holds the sub-scores behind a candidate score. Each is in [0,1].
type ScoreBreakdown struct {
	Amount float64
	Date   float64
	Text   float64
}

// MatchCandidate is an ephemeral pairing of one transaction with one invoice.
type MatchCandidate struct {
	TransactionID string
	InvoiceID     string
	Breakdown     ScoreBreakdown
	Score         float64
	DateDistance  int // Absolute distance between transaction and issue date, in days
}

// ReconciliationRecord is the persisted outcome of a match.
type ReconciliationRecord struct {
	AppliedAt     time.Time
	ID            string
	TenantID      string
	TransactionID string
	InvoiceID     string
	GroupID       string // Set only for installment matches
	Method        MatchMethod
	Amount        decimal.Decimal // Unsigned transaction amount applied to the invoice
	Confidence    float64
	Active        bool
}

// GroupStatus is the lifecycle state of an installment group.
type GroupStatus string

// Installment group statuses.
const (
	// GroupOpen is still accumulating payments inside its allowed span.
	GroupOpen GroupStatus = "open"
	// GroupComplete reached the invoice total within tolerance.
	GroupComplete GroupStatus = "complete"
	// GroupIncomplete ran out of span before reaching the total (partially matched).
	GroupIncomplete GroupStatus = "incomplete"
)

// InstallmentGroup is a set of transactions jointly settling one invoice over time.
type InstallmentGroup struct {
	FirstDate      time.Time
	LastDate       time.Time
	UpdatedAt      time.Time
	ID             string
	TenantID       string
	InvoiceID      string
	Status         GroupStatus
	InvoiceTotal   decimal.Decimal
	MatchedTotal   decimal.Decimal
	TransactionIDs []string // Ordered by transaction date
}

// Remaining returns how much of the invoice total is still unpaid.
func (g *InstallmentGroup) Remaining() decimal.Decimal {
	return g.InvoiceTotal.Sub(g.MatchedTotal)
}

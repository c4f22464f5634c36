package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// RecordResponse is an applied reconciliation record.
type RecordResponse struct {
	TransactionID string  `json:"transaction_id"`
	InvoiceID     string  `json:"invoice_id"`
	GroupID       string  `json:"group_id,omitempty"`
	Method        string  `json:"method"`
	Amount        string  `json:"amount"`
	Confidence    float64 `json:"confidence"`
}

// PendingResponse is a transaction left for review.
type PendingResponse struct {
	TransactionID string   `json:"transaction_id"`
	Reason        string   `json:"reason"`
	Candidates    []string `json:"candidates,omitempty"`
}

// GroupResponse is an installment group and its progress.
type GroupResponse struct {
	ID           string   `json:"id"`
	InvoiceID    string   `json:"invoice_id"`
	Status       string   `json:"status"`
	InvoiceTotal string   `json:"invoice_total"`
	MatchedTotal string   `json:"matched_total"`
	Transactions []string `json:"transactions"`
}

// FailureResponse is a record whose write was rejected.
type FailureResponse struct {
	TransactionID string `json:"transaction_id,omitempty"`
	InvoiceID     string `json:"invoice_id,omitempty"`
	GroupID       string `json:"group_id,omitempty"`
	Error         string `json:"error"`
}

// ReconcileResponse summarizes a reconciliation run.
type ReconcileResponse struct {
	TenantID        string            `json:"tenant_id"`
	Applied         []RecordResponse  `json:"applied"`
	Pending         []PendingResponse `json:"pending"`
	Groups          []GroupResponse   `json:"groups"`
	OpenGroups      []GroupResponse   `json:"open_groups"`
	PendingInvoices []string          `json:"pending_invoices"`
	Failures        []FailureResponse `json:"failures"`
	AppliedAmount   string            `json:"applied_amount"`
	Duration        string            `json:"duration"`
}

func newGroupResponse(g model.InstallmentGroup, _ int) GroupResponse {
	return GroupResponse{
		ID:           g.ID,
		InvoiceID:    g.InvoiceID,
		Status:       string(g.Status),
		InvoiceTotal: g.InvoiceTotal.StringFixed(2),
		MatchedTotal: g.MatchedTotal.StringFixed(2),
		Transactions: g.TransactionIDs,
	}
}

func newReconcileResponse(r *reconcile.Report) ReconcileResponse {
	return ReconcileResponse{
		TenantID: r.TenantID,
		Applied: lo.Map(r.Applied, func(rec model.ReconciliationRecord, _ int) RecordResponse {
			return RecordResponse{
				TransactionID: rec.TransactionID,
				InvoiceID:     rec.InvoiceID,
				GroupID:       rec.GroupID,
				Method:        string(rec.Method),
				Amount:        rec.Amount.StringFixed(2),
				Confidence:    rec.Confidence,
			}
		}),
		Pending: lo.Map(r.Pending, func(p reconcile.PendingTransaction, _ int) PendingResponse {
			resp := PendingResponse{
				TransactionID: p.Transaction.ID,
				Candidates:    lo.Map(p.Candidates, func(c model.MatchCandidate, _ int) string { return c.InvoiceID }),
			}
			if p.Reason != nil {
				resp.Reason = p.Reason.Error()
			}
			return resp
		}),
		Groups:          lo.Map(r.Groups, newGroupResponse),
		OpenGroups:      lo.Map(r.OpenGroups, newGroupResponse),
		PendingInvoices: lo.Map(r.PendingInvoices, func(inv model.Invoice, _ int) string { return inv.ID }),
		Failures: lo.Map(r.Failures, func(f reconcile.Failure, _ int) FailureResponse {
			resp := FailureResponse{
				TransactionID: f.TransactionID,
				InvoiceID:     f.InvoiceID,
				GroupID:       f.GroupID,
			}
			if f.Err != nil {
				resp.Error = f.Err.Error()
			}
			return resp
		}),
		AppliedAmount: r.Stats.AppliedAmount.StringFixed(2),
		Duration:      r.Duration.String(),
	}
}

// PhaseResponse is one level of a classification path.
type PhaseResponse struct {
	Code       string  `json:"code"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResponse is the classification of one invoice.
type ClassificationResponse struct {
	ClassifiedAt   time.Time      `json:"classified_at"`
	InvoiceID      string         `json:"invoice_id"`
	UUID           string         `json:"uuid"`
	Family         PhaseResponse  `json:"family"`
	Subfamily      *PhaseResponse `json:"subfamily,omitempty"`
	Account        *PhaseResponse `json:"account,omitempty"`
	DeclaredUsage  string         `json:"declared_usage,omitempty"`
	OverrideReason string         `json:"override_reason,omitempty"`
	FallbackPhases []string       `json:"fallback_phases,omitempty"`
	Override       bool           `json:"override"`
	LowConfidence  bool           `json:"low_confidence"`
}

func newClassificationResponse(inv *model.Invoice, r *model.ClassificationResult, names func(string) string) ClassificationResponse {
	phase := func(code string, confidence float64) PhaseResponse {
		p := PhaseResponse{Code: code, Confidence: confidence}
		if names != nil {
			if name := names(code); name != code {
				p.Name = name
			}
		}
		return p
	}

	resp := ClassificationResponse{
		ClassifiedAt:   r.ClassifiedAt,
		InvoiceID:      r.InvoiceID,
		UUID:           inv.UUID,
		Family:         phase(r.FamilyCode, r.FamilyConfidence),
		DeclaredUsage:  r.DeclaredUsage,
		OverrideReason: r.OverrideReason,
		FallbackPhases: lo.Map(r.FallbackPhases, func(l model.ClassificationLevel, _ int) string { return string(l) }),
		Override:       r.Override,
		LowConfidence:  r.LowConfidence,
	}
	if r.SubfamilyCode != "" {
		resp.Subfamily = lo.ToPtr(phase(r.SubfamilyCode, r.SubfamilyConfidence))
	}
	if r.AccountCode != "" {
		resp.Account = lo.ToPtr(phase(r.AccountCode, r.AccountConfidence))
	}
	return resp
}


package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// InstallmentOutcome is the verdict of the installment detector for one invoice.
type InstallmentOutcome int

// Installment outcomes.
const (
	// NoInstallments means no new payment could be attributed to the invoice.
	NoInstallments InstallmentOutcome = iota
	// InstallmentsComplete means the payments reach the invoice total within tolerance.
	InstallmentsComplete
	// InstallmentsOpen means the payments fall short but the span is still running.
	InstallmentsOpen
	// InstallmentsIncomplete means the payments fall short and the span has elapsed.
	InstallmentsIncomplete
	// InstallmentsRejected means the next payment would overshoot the total beyond tolerance.
	InstallmentsRejected
)

func (o InstallmentOutcome) String() string {
	switch o {
	case InstallmentsComplete:
		return "complete"
	case InstallmentsOpen:
		return "open"
	case InstallmentsIncomplete:
		return "incomplete"
	case InstallmentsRejected:
		return "rejected"
	default:
		return "none"
	}
}

// Status maps an accepted outcome to the persisted group status.
func (o InstallmentOutcome) Status() model.GroupStatus {
	switch o {
	case InstallmentsComplete:
		return model.GroupComplete
	case InstallmentsIncomplete:
		return model.GroupIncomplete
	default:
		return model.GroupOpen
	}
}

// InstallmentPlan is what the detector proposes for one invoice.
type InstallmentPlan struct {
	Invoice      *model.Invoice
	Transactions []model.Transaction // New payments, in date order
	Similarity   []float64           // Counterpart similarity of each new payment
	Total        decimal.Decimal     // Running sum including previously grouped payments
	Outcome      InstallmentOutcome
}

// Confidence averages the counterpart similarity of the new payments.
func (p *InstallmentPlan) Confidence() float64 {
	if len(p.Similarity) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range p.Similarity {
		sum += s
	}
	return clamp(sum / float64(len(p.Similarity)))
}

// DetectInstallments greedily accumulates same-counterpart payments toward inv's total.
// prior is the sum already grouped and priorCount the number of payments behind it.
// pool is not modified.
func DetectInstallments(inv *model.Invoice, prior decimal.Decimal, priorCount int, pool []model.Transaction, asOf time.Time, cfg Config) InstallmentPlan {
	plan := InstallmentPlan{Invoice: inv, Total: prior}
	if inv.IsCancelled() {
		return plan
	}

	limit := inv.Total.Add(cfg.AmountTolerance)
	spanEnd := inv.IssueDate.AddDate(0, cfg.MaxSpanMonths, 0)

	eligible := make([]model.Transaction, 0, len(pool))
	similarity := make(map[string]float64, len(pool))
	for i := range pool {
		txn := &pool[i]
		if txn.TenantID != inv.TenantID || !inv.AcceptsDirection(txn.IsOutflow()) {
			continue
		}
		if !txn.AbsAmount().LessThan(inv.Total) {
			continue
		}
		if daysBetween(txn.Date, inv.IssueDate) > cfg.DaysAfter || txn.Date.After(spanEnd) {
			continue
		}
		sim := CounterpartSimilarity(txn.Description, inv)
		if sim < cfg.CounterpartThreshold {
			continue
		}
		similarity[txn.ID] = sim
		eligible = append(eligible, *txn)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].Date.Equal(eligible[j].Date) {
			return eligible[i].Date.Before(eligible[j].Date)
		}
		return eligible[i].ID < eligible[j].ID
	})

	complete := func(sum decimal.Decimal) bool {
		return inv.Total.Sub(sum).Abs().LessThanOrEqual(cfg.AmountTolerance)
	}

	sum := prior
	for _, txn := range eligible {
		if complete(sum) {
			break
		}
		next := sum.Add(txn.AbsAmount())
		if next.GreaterThan(limit) {
			plan.Outcome = InstallmentsRejected
			plan.Transactions = nil
			plan.Similarity = nil
			plan.Total = prior
			return plan
		}
		sum = next
		plan.Transactions = append(plan.Transactions, txn)
		plan.Similarity = append(plan.Similarity, similarity[txn.ID])
	}
	plan.Total = sum

	switch {
	case complete(sum) && len(plan.Transactions) > 0:
		plan.Outcome = InstallmentsComplete
	case asOf.After(spanEnd):
		plan.Outcome = InstallmentsIncomplete
	case len(plan.Transactions) > 0:
		plan.Outcome = InstallmentsOpen
	default:
		plan.Outcome = NoInstallments
	}

	if plan.Outcome != NoInstallments && priorCount+len(plan.Transactions) < cfg.MinInstallments {
		plan.Outcome = NoInstallments
		plan.Transactions = nil
		plan.Similarity = nil
		plan.Total = prior
	}
	return plan
}

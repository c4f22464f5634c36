package reconcile

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// GenerateCandidates returns the invoices that could plausibly settle txn, ordered by ID.
// An empty result is a normal outcome.
func GenerateCandidates(txn *model.Transaction, invoices []model.Invoice, cfg Config) []model.Invoice {
	amount := txn.AbsAmount()
	outflow := txn.IsOutflow()

	candidates := lo.Filter(invoices, func(inv model.Invoice, _ int) bool {
		if inv.TenantID != txn.TenantID || inv.IsCancelled() {
			return false
		}
		if !inv.AcceptsDirection(outflow) {
			return false
		}
		if amount.Sub(inv.Total).Abs().GreaterThan(cfg.AmountTolerance) {
			return false
		}
		return withinWindow(txn.Date, inv.IssueDate, cfg)
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// withinWindow reports whether an invoice issued on issued may be settled on paid.
func withinWindow(paid, issued time.Time, cfg Config) bool {
	lag := daysBetween(issued, paid)
	if lag >= 0 {
		return lag <= cfg.DaysBefore
	}
	return -lag <= cfg.DaysAfter
}

// daysBetween returns the number of calendar days from a to b.
func daysBetween(a, b time.Time) int {
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	start := time.Date(ya, ma, da, 0, 0, 0, 0, time.UTC)
	end := time.Date(yb, mb, db, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

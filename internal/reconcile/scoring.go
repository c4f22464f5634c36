package reconcile

import (
	"sort"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Score rates how well inv explains txn. It is pure and deterministic.
func Score(txn *model.Transaction, inv *model.Invoice, cfg Config) model.MatchCandidate {
	w := cfg.normalizedWeights()
	lag := daysBetween(inv.IssueDate, txn.Date)

	breakdown := model.ScoreBreakdown{
		Amount: amountScore(txn, inv, cfg),
		Date:   dateScore(lag, cfg),
		Text:   CounterpartSimilarity(txn.Description, inv),
	}

	score := w.Amount*breakdown.Amount + w.Date*breakdown.Date + w.Text*breakdown.Text

	return model.MatchCandidate{
		TransactionID: txn.ID,
		InvoiceID:     inv.ID,
		Breakdown:     breakdown,
		Score:         clamp(score),
		DateDistance:  abs(lag),
	}
}

// amountScore is 1 for an exact amount and decays linearly to 0 at the tolerance boundary.
func amountScore(txn *model.Transaction, inv *model.Invoice, cfg Config) float64 {
	diff := txn.AbsAmount().Sub(inv.Total).Abs()
	if diff.IsZero() {
		return 1
	}
	if !cfg.AmountTolerance.IsPositive() || diff.GreaterThan(cfg.AmountTolerance) {
		return 0
	}
	ratio, _ := diff.Div(cfg.AmountTolerance).Float64()
	return clamp(1 - ratio)
}

// dateScore decays linearly over the side of the window the invoice date falls on.
func dateScore(lag int, cfg Config) float64 {
	side := cfg.DaysBefore
	if lag < 0 {
		side = cfg.DaysAfter
	}
	if lag == 0 {
		return 1
	}
	if side == 0 {
		return 0
	}
	return clamp(1 - float64(abs(lag))/float64(side))
}

// RankCandidates orders candidates best first: score, then text similarity,
// then date distance, then invoice ID.
func RankCandidates(candidates []model.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return better(&candidates[i], &candidates[j])
	})
}

func better(a, b *model.MatchCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Breakdown.Text != b.Breakdown.Text {
		return a.Breakdown.Text > b.Breakdown.Text
	}
	if a.DateDistance != b.DateDistance {
		return a.DateDistance < b.DateDistance
	}
	return a.InvoiceID < b.InvoiceID
}

// interchangeable reports whether two invoices are indistinguishable to any transaction:
// same counterpart, side, total and issue day.
func interchangeable(a, b *model.Invoice) bool {
	sameCounterpart := a.CounterpartRFC == b.CounterpartRFC
	if a.CounterpartRFC == "" && b.CounterpartRFC == "" {
		sameCounterpart = a.CounterpartName == b.CounterpartName
	}
	return sameCounterpart &&
		a.Kind == b.Kind &&
		a.Total.Equal(b.Total) &&
		daysBetween(a.IssueDate, b.IssueDate) == 0
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

package classify

import (
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// FamilyClassifier assigns an invoice to a top-level family. Content and business
// context are the primary evidence; the declared usage code only cross-checks them.
type FamilyClassifier struct {
	scorer
}

// NewFamilyClassifier creates a phase 1 classifier.
func NewFamilyClassifier(chart *Chart, lexicon *Lexicon, cfg Config) *FamilyClassifier {
	return &FamilyClassifier{scorer{chart: chart, lexicon: lexicon, cfg: cfg}}
}

// Classify picks the family. When the content strongly contradicts the declared
// usage, the content wins and the result carries an override with both codes in
// the reason. A weak contradiction keeps the declared family and only records the
// conflict in the reason.
func (f *FamilyClassifier) Classify(inv *model.Invoice, bc model.BusinessContext, retrieved model.EvidenceRankings) model.PhaseResult {
	families := f.chart.Families()
	scores := f.semanticScores(inv, bc, retrieved, families)
	rankings := rank(scores, "family")
	declared, hasDeclared := f.declaredFamily(inv)

	top := rankings.Top()
	if top == nil {
		if hasDeclared {
			return model.PhaseResult{Code: declared, Confidence: f.cfg.DeclaredOnly, Evidence: rankings}
		}
		return model.PhaseResult{Code: f.contextFamily(bc), Confidence: f.cfg.NoEvidence, Evidence: rankings}
	}

	if !hasDeclared {
		return model.PhaseResult{Code: top.Code, Confidence: top.Score, Evidence: rankings}
	}

	// A declared family tied with the best content score is agreement, not conflict.
	if declared == top.Code || scores[declared] >= top.Score {
		return model.PhaseResult{
			Code:       declared,
			Confidence: clamp01(scores[declared] + f.cfg.Corroboration),
			Evidence:   rankings,
		}
	}

	// Content that disagrees without reaching the family threshold is too weak to
	// replace the declared usage. The declared family stands with reduced confidence.
	if top.Score < f.cfg.FamilyThreshold {
		return model.PhaseResult{
			Code:       declared,
			Confidence: clamp01(f.cfg.DeclaredOnly + scores[declared] - top.Score),
			Evidence:   rankings,
			OverrideReason: fmt.Sprintf("declared usage %s kept for family %s (%s); content weakly indicates %s (%s) with score %.2f below %.2f",
				inv.UsageCode, declared, f.chart.Name(declared), top.Code, f.chart.Name(top.Code), top.Score, f.cfg.FamilyThreshold),
		}
	}

	return model.PhaseResult{
		Code:       top.Code,
		Confidence: top.Score,
		Evidence:   rankings,
		Override:   true,
		OverrideReason: fmt.Sprintf("declared usage %s implies family %s (%s) but content indicates %s (%s) with score %.2f against %.2f",
			inv.UsageCode, declared, f.chart.Name(declared), top.Code, f.chart.Name(top.Code), top.Score, scores[declared]),
	}
}

// declaredFamily is the family the invoice claims for itself. Issued invoices
// are income for the tenant whatever usage the customer declared.
func (f *FamilyClassifier) declaredFamily(inv *model.Invoice) (string, bool) {
	if inv.Kind == model.InvoiceIssued {
		return "40", true
	}
	return DeclaredFamily(inv.UsageCode)
}

// contextFamily guesses a family from the tenant's typical categories.
func (f *FamilyClassifier) contextFamily(bc model.BusinessContext) string {
	for _, code := range bc.TypicalCategories {
		if family := f.chart.FamilyOf(code); family != "" {
			return family
		}
	}
	return "60"
}

package classify

import (
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// NarrowClassifier refines a result to one of a fixed set of candidate codes.
// Phases 2 and 3 are both instances of it.
type NarrowClassifier struct {
	scorer
	level model.ClassificationLevel
}

// NewNarrowClassifier creates a subfamily or account classifier.
func NewNarrowClassifier(chart *Chart, lexicon *Lexicon, cfg Config, level model.ClassificationLevel) *NarrowClassifier {
	return &NarrowClassifier{scorer: scorer{chart: chart, lexicon: lexicon, cfg: cfg}, level: level}
}

// Level returns the chart level this classifier assigns.
func (n *NarrowClassifier) Level() model.ClassificationLevel {
	return n.level
}

// Classify picks the best candidate. Without any evidence inside the set it
// returns the first candidate, which is the most common one, at low confidence.
func (n *NarrowClassifier) Classify(inv *model.Invoice, bc model.BusinessContext, retrieved model.EvidenceRankings, candidates []string) model.PhaseResult {
	if len(candidates) == 0 {
		return model.PhaseResult{}
	}

	scores := n.semanticScores(inv, bc, retrieved.Restrict(candidates), candidates)
	rankings := rank(scores, string(n.level))

	top := rankings.Top()
	if top == nil {
		return model.PhaseResult{Code: candidates[0], Confidence: n.cfg.NoEvidence, Evidence: rankings}
	}
	return model.PhaseResult{Code: top.Code, Confidence: top.Score, Evidence: rankings}
}

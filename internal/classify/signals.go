package classify

import (
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// industryCodes are the chart codes a declared industry usually spends on.
var industryCodes = map[string][]string{
	"software":     {"156", "603.02", "601.08"},
	"tecnologia":   {"156", "603.02", "601.08"},
	"consultoria":  {"601.01", "156"},
	"comercio":     {"502"},
	"retail":       {"502"},
	"manufactura":  {"153", "501"},
	"construccion": {"153", "154"},
	"transporte":   {"154", "601.06"},
	"restaurante":  {"502", "601.09"},
}

// scorer combines lexicon hits, retrieved evidence and business context.
type scorer struct {
	chart   *Chart
	lexicon *Lexicon
	cfg     Config
}

// lexicalScores weights each line's hits by its share of the invoice amount and
// adds the counterpart name as a weaker signal.
func (s *scorer) lexicalScores(inv *model.Invoice, candidates []string) map[string]float64 {
	scores := make(map[string]float64, len(candidates))

	shares := lineShares(inv.LineItems)
	for i, item := range inv.LineItems {
		rolled := s.chart.Rollup(s.lexicon.Hits(item.Description), candidates)
		for code, w := range rolled {
			scores[code] += shares[i] * w
		}
	}

	if inv.CounterpartName != "" {
		rolled := s.chart.Rollup(s.lexicon.Hits(inv.CounterpartName), candidates)
		for code, w := range rolled {
			scores[code] += s.cfg.CounterpartWeight * w
		}
	}

	for code, v := range scores {
		scores[code] = clamp01(v)
	}
	return scores
}

// semanticScores is the primary evidence for a phase.
func (s *scorer) semanticScores(inv *model.Invoice, bc model.BusinessContext, retrieved model.EvidenceRankings, candidates []string) map[string]float64 {
	lex := s.lexicalScores(inv, candidates)

	combined := make(map[string]float64, len(candidates))
	if len(retrieved) == 0 {
		for code, v := range lex {
			combined[code] = v
		}
	} else {
		retr := make(map[string]float64, len(retrieved))
		for _, e := range retrieved {
			retr[e.Code] = e.Score
		}
		w := s.cfg.RetrievalWeight
		for _, code := range candidates {
			combined[code] = w*retr[code] + (1-w)*lex[code]
		}
	}

	for _, code := range candidates {
		if combined[code] > 0 && s.contextFavors(bc, code) {
			combined[code] = clamp01(combined[code] + s.cfg.ContextBoost)
		}
	}
	return combined
}

// contextFavors reports whether the tenant's typical categories or industry point at code.
func (s *scorer) contextFavors(bc model.BusinessContext, code string) bool {
	typical := append(append([]string(nil), bc.TypicalCategories...), industryCodes[foldText(bc.Industry)]...)
	for _, t := range typical {
		if s.chart.Covers(code, t) || s.chart.Covers(t, code) {
			return true
		}
	}
	return false
}

func rank(scores map[string]float64, source string) model.EvidenceRankings {
	rankings := make(model.EvidenceRankings, 0, len(scores))
	for code, v := range scores {
		if v > 0 {
			rankings = append(rankings, model.Evidence{Code: code, Score: v, Source: source})
		}
	}
	rankings.Sort()
	return rankings
}

func lineShares(items []model.LineItem) []float64 {
	shares := make([]float64, len(items))
	if len(items) == 0 {
		return shares
	}

	total := decimal.Zero
	for _, item := range items {
		if a := item.Amount(); a.IsPositive() {
			total = total.Add(a)
		}
	}

	for i, item := range items {
		if total.IsZero() {
			shares[i] = 1 / float64(len(items))
			continue
		}
		a := item.Amount()
		if !a.IsPositive() {
			continue
		}
		shares[i] = a.Div(total).InexactFloat64()
	}
	return shares
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

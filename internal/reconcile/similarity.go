package reconcile

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// noiseTokens never identify a counterpart: legal entity suffixes, Spanish
// articles and the words banks print around transfer references.
var noiseTokens = map[string]bool{
	"sa": true, "de": true, "cv": true, "s": true, "a": true, "rl": true, "sapi": true,
	"sab": true, "sc": true, "c": true, "v": true, "la": true, "el": true, "los": true,
	"las": true, "del": true, "y": true, "spei": true, "pago": true, "transferencia": true,
	"traspaso": true, "cargo": true, "abono": true, "ref": true, "referencia": true,
	"domiciliacion": true, "compra": true, "tdc": true, "pos": true,
}

// normalizeText lower-cases, folds accents and splits into meaningful tokens.
func normalizeText(s string) []string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if noiseTokens[f] || isDigits(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// TokenSimilarity is the Jaccard index of the token sets of a and b.
func TokenSimilarity(a, b string) float64 {
	ta, tb := normalizeText(a), normalizeText(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	union := len(set)
	inter := 0
	seen := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// EditSimilarity is one minus the normalized edit distance between the normalized strings.
func EditSimilarity(a, b string) float64 {
	ra := []rune(strings.Join(normalizeText(a), " "))
	rb := []rune(strings.Join(normalizeText(b), " "))
	total := len(ra) + len(rb)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	// Substitutions cost 2 under the default options, so the distance never exceeds total.
	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return float64(total-distance) / float64(total)
}

// TextSimilarity compares free text with a counterpart name. It is symmetric and in [0,1].
func TextSimilarity(a, b string) float64 {
	return max(TokenSimilarity(a, b), EditSimilarity(a, b))
}

// CounterpartSimilarity scores how well a transaction description names the invoice counterpart.
// A description quoting the counterpart RFC is conclusive.
func CounterpartSimilarity(description string, inv *model.Invoice) float64 {
	if rfc := strings.TrimSpace(inv.CounterpartRFC); rfc != "" &&
		strings.Contains(strings.ToUpper(description), strings.ToUpper(rfc)) {
		return 1
	}
	return TextSimilarity(description, inv.CounterpartName)
}

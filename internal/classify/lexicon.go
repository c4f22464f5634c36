package classify

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Keyword ties a pattern over invoice text to a chart code at any level.
type Keyword struct {
	Code   string
	Regex  string
	Weight float64 // Evidence strength when the pattern matches (0.0-1.0)
}

type compiledKeyword struct {
	re *regexp.Regexp
	Keyword
}

// Lexicon scores text against keyword patterns.
type Lexicon struct {
	keywords []compiledKeyword
}

// NewLexicon compiles the keyword patterns. Patterns run over lower-cased,
// accent-folded text and are case-insensitive.
func NewLexicon(keywords []Keyword) (*Lexicon, error) {
	compiled := make([]compiledKeyword, 0, len(keywords))
	for _, k := range keywords {
		if k.Weight < 0 || k.Weight > 1 {
			return nil, fmt.Errorf("keyword %s for %s: weight must be between 0.0 and 1.0", k.Regex, k.Code)
		}
		expr := k.Regex
		if !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile keyword for %s: %w", k.Code, err)
		}
		compiled = append(compiled, compiledKeyword{Keyword: k, re: re})
	}
	return &Lexicon{keywords: compiled}, nil
}

// Hits returns the strongest matching weight per code for text.
func (l *Lexicon) Hits(text string) map[string]float64 {
	text = foldText(text)
	hits := make(map[string]float64)
	if text == "" {
		return hits
	}
	for _, k := range l.keywords {
		if k.Weight > hits[k.Code] && k.re.MatchString(text) {
			hits[k.Code] = k.Weight
		}
	}
	return hits
}

// Rollup scores each candidate by the strongest hit on the candidate or below it.
func (c *Chart) Rollup(hits map[string]float64, candidates []string) map[string]float64 {
	scores := make(map[string]float64, len(candidates))
	for _, cand := range candidates {
		for code, w := range hits {
			if w > scores[cand] && c.Covers(cand, code) {
				scores[cand] = w
			}
		}
	}
	return scores
}

func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.TrimSpace(folded)
}

// DefaultLexicon returns the built-in keyword patterns for the default chart.
func DefaultLexicon() *Lexicon {
	l, err := NewLexicon(defaultKeywords)
	if err != nil {
		panic(err)
	}
	return l
}

var defaultKeywords = []Keyword{
	// Fixed assets
	{Code: "156.01", Regex: `\b(laptop|notebook|computadora|computador|portatil|macbook|servidor|monitor|cpu|tablet|ipad)\b`, Weight: 0.9},
	{Code: "156.01", Regex: `\b(latitude|thinkpad|inspiron|elitebook|probook)\b`, Weight: 0.85},
	{Code: "156.02", Regex: `\b(router|switch|access point|firewall|modem)\b`, Weight: 0.85},
	{Code: "155.01", Regex: `\b(escritorio|silla ejecutiva|silla|archivero|mobiliario|librero)\b`, Weight: 0.85},
	{Code: "154.01", Regex: `\b(automovil|vehiculo|camioneta|pickup|sedan)\b`, Weight: 0.9},
	{Code: "153.01", Regex: `\b(maquinaria|torno|compresor|montacargas|generador)\b`, Weight: 0.85},

	// Income
	{Code: "401.01", Regex: `\b(venta de|honorarios por|servicio de desarrollo|consultoria prestada)\b`, Weight: 0.6},

	// Costs
	{Code: "502.01", Regex: `\b(mercancia|materia prima|inventario|reventa)\b`, Weight: 0.8},
	{Code: "501.01", Regex: `\b(costo de venta|maquila)\b`, Weight: 0.75},

	// Operating expenses
	{Code: "601.01", Regex: `\b(honorarios|asesoria|consultoria|servicios profesionales|contabilidad)\b`, Weight: 0.8},
	{Code: "601.04", Regex: `\b(renta|arrendamiento|alquiler)\b`, Weight: 0.85},
	{Code: "601.06", Regex: `\b(gasolina|diesel|combustible|magna|premium)\b`, Weight: 0.9},
	{Code: "601.08", Regex: `\b(telefonia|telefono|internet|plan movil|fibra optica)\b`, Weight: 0.85},
	{Code: "601.09", Regex: `\b(energia electrica|luz|cfe|suministro electrico)\b`, Weight: 0.85},
	{Code: "603.01", Regex: `\b(papeleria|hojas|toner|cartucho|boligrafo|folder|cuaderno)\b`, Weight: 0.85},
	{Code: "603.02", Regex: `\b(software|licencia|suscripcion|saas|hosting|dominio)\b`, Weight: 0.8},
	{Code: "603.03", Regex: `\b(mantenimiento|reparacion|limpieza)\b`, Weight: 0.75},
	{Code: "602.01", Regex: `\b(publicidad|anuncio|marketing|propaganda)\b`, Weight: 0.85},
	{Code: "602.02", Regex: `\b(hospedaje|hotel|viatico|boleto de avion|vuelo|alimentos)\b`, Weight: 0.8},

	// Financing
	{Code: "701.01", Regex: `\b(comision bancaria|comision por|comisiones)\b`, Weight: 0.85},
	{Code: "701.02", Regex: `\b(intereses|interes moratorio|financiamiento)\b`, Weight: 0.85},
}

package classify

import (
	"sort"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Node is one code of the chart of accounts.
type Node struct {
	Code   string
	Name   string
	Parent string
	Level  model.ClassificationLevel
}

// Chart is a static three-level chart of accounts.
type Chart struct {
	nodes    map[string]Node
	children map[string][]string
	families []string
	// defaults are the broad candidate sets used when the parent phase is unreliable.
	defaultSubfamilies []string
	defaultAccounts    []string
}

// NewChart indexes nodes. Children keep the order they are given in, which is
// the most-common-first order used when no evidence distinguishes them.
func NewChart(nodes []Node, defaultSubfamilies, defaultAccounts []string) *Chart {
	c := &Chart{
		nodes:              make(map[string]Node, len(nodes)),
		children:           make(map[string][]string),
		defaultSubfamilies: defaultSubfamilies,
		defaultAccounts:    defaultAccounts,
	}
	for _, n := range nodes {
		c.nodes[n.Code] = n
		if n.Level == model.LevelFamily {
			c.families = append(c.families, n.Code)
			continue
		}
		c.children[n.Parent] = append(c.children[n.Parent], n.Code)
	}
	return c
}

// Node returns the node for code.
func (c *Chart) Node(code string) (Node, bool) {
	n, ok := c.nodes[code]
	return n, ok
}

// Name returns the display name of code, or the code itself when unknown.
func (c *Chart) Name(code string) string {
	if n, ok := c.nodes[code]; ok {
		return n.Name
	}
	return code
}

// Families returns every family code.
func (c *Chart) Families() []string {
	return append([]string(nil), c.families...)
}

// Children returns the codes directly under parent.
func (c *Chart) Children(parent string) []string {
	return append([]string(nil), c.children[parent]...)
}

// DefaultSubfamilies is the candidate set for phase 2 when the family is unreliable.
func (c *Chart) DefaultSubfamilies() []string {
	return append([]string(nil), c.defaultSubfamilies...)
}

// DefaultAccounts is the candidate set for phase 3 when the subfamily is unreliable.
func (c *Chart) DefaultAccounts() []string {
	return append([]string(nil), c.defaultAccounts...)
}

// FamilyOf walks up to the family of code.
func (c *Chart) FamilyOf(code string) string {
	for i := 0; i < 3; i++ {
		n, ok := c.nodes[code]
		if !ok {
			return ""
		}
		if n.Level == model.LevelFamily {
			return n.Code
		}
		code = n.Parent
	}
	return ""
}

// Covers reports whether code equals ancestor or lies below it.
func (c *Chart) Covers(ancestor, code string) bool {
	for i := 0; i < 3 && code != ""; i++ {
		if code == ancestor {
			return true
		}
		code = c.nodes[code].Parent
	}
	return false
}

// Codes returns all codes at a level, sorted.
func (c *Chart) Codes(level model.ClassificationLevel) []string {
	var codes []string
	for code, n := range c.nodes {
		if n.Level == level {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// usageFamilies maps the declared UsoCFDI to the family it implies.
// Codes without an implied family (personal deductions, payments) are absent.
var usageFamilies = map[string]string{
	"G01": "50",
	"G02": "40",
	"G03": "60",
	"I01": "15",
	"I02": "15",
	"I03": "15",
	"I04": "15",
	"I05": "15",
	"I06": "15",
	"I07": "15",
	"I08": "15",
}

// DeclaredFamily returns the family implied by a declared usage code.
func DeclaredFamily(usage string) (string, bool) {
	f, ok := usageFamilies[strings.ToUpper(strings.TrimSpace(usage))]
	return f, ok
}

// DefaultChart returns the built-in chart, a subset of the SAT grouping codes.
func DefaultChart() *Chart {
	return NewChart(defaultNodes, []string{"601", "603", "502", "156", "155", "701"}, []string{
		"601.01", "603.01", "601.04", "502.01", "156.01", "155.01", "701.01",
	})
}

var defaultNodes = []Node{
	{Code: "15", Name: "Activo fijo", Level: model.LevelFamily},
	{Code: "40", Name: "Ingresos", Level: model.LevelFamily},
	{Code: "50", Name: "Costos", Level: model.LevelFamily},
	{Code: "60", Name: "Gastos de operacion", Level: model.LevelFamily},
	{Code: "70", Name: "Resultado integral de financiamiento", Level: model.LevelFamily},

	{Code: "156", Name: "Equipo de computo", Parent: "15", Level: model.LevelSubfamily},
	{Code: "155", Name: "Mobiliario y equipo de oficina", Parent: "15", Level: model.LevelSubfamily},
	{Code: "154", Name: "Automoviles y equipo de transporte", Parent: "15", Level: model.LevelSubfamily},
	{Code: "153", Name: "Maquinaria y equipo", Parent: "15", Level: model.LevelSubfamily},
	{Code: "401", Name: "Ingresos por ventas y servicios", Parent: "40", Level: model.LevelSubfamily},
	{Code: "502", Name: "Compras", Parent: "50", Level: model.LevelSubfamily},
	{Code: "501", Name: "Costo de venta y servicios", Parent: "50", Level: model.LevelSubfamily},
	{Code: "601", Name: "Gastos generales", Parent: "60", Level: model.LevelSubfamily},
	{Code: "603", Name: "Gastos de administracion", Parent: "60", Level: model.LevelSubfamily},
	{Code: "602", Name: "Gastos de venta", Parent: "60", Level: model.LevelSubfamily},
	{Code: "701", Name: "Gastos financieros", Parent: "70", Level: model.LevelSubfamily},

	{Code: "156.01", Name: "Equipo de computo", Parent: "156", Level: model.LevelAccount},
	{Code: "156.02", Name: "Equipo de redes y telecomunicaciones", Parent: "156", Level: model.LevelAccount},
	{Code: "155.01", Name: "Mobiliario de oficina", Parent: "155", Level: model.LevelAccount},
	{Code: "154.01", Name: "Automoviles", Parent: "154", Level: model.LevelAccount},
	{Code: "153.01", Name: "Maquinaria", Parent: "153", Level: model.LevelAccount},
	{Code: "401.01", Name: "Ventas y servicios gravados", Parent: "401", Level: model.LevelAccount},
	{Code: "502.01", Name: "Compras nacionales", Parent: "502", Level: model.LevelAccount},
	{Code: "501.01", Name: "Costo de venta", Parent: "501", Level: model.LevelAccount},
	{Code: "601.01", Name: "Servicios profesionales", Parent: "601", Level: model.LevelAccount},
	{Code: "601.04", Name: "Arrendamiento", Parent: "601", Level: model.LevelAccount},
	{Code: "601.06", Name: "Combustibles y lubricantes", Parent: "601", Level: model.LevelAccount},
	{Code: "601.08", Name: "Telefono e internet", Parent: "601", Level: model.LevelAccount},
	{Code: "601.09", Name: "Energia electrica", Parent: "601", Level: model.LevelAccount},
	{Code: "603.01", Name: "Papeleria y articulos de oficina", Parent: "603", Level: model.LevelAccount},
	{Code: "603.02", Name: "Software y suscripciones", Parent: "603", Level: model.LevelAccount},
	{Code: "603.03", Name: "Mantenimiento", Parent: "603", Level: model.LevelAccount},
	{Code: "602.01", Name: "Publicidad y propaganda", Parent: "602", Level: model.LevelAccount},
	{Code: "602.02", Name: "Viaticos", Parent: "602", Level: model.LevelAccount},
	{Code: "701.01", Name: "Comisiones bancarias", Parent: "701", Level: model.LevelAccount},
	{Code: "701.02", Name: "Intereses a cargo", Parent: "701", Level: model.LevelAccount},
}

// Package reconcile matches bank transactions against CFDI invoices.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// Weights sets how much each sub-score contributes to a candidate score.
type Weights struct {
	Amount float64
	Date   float64
	Text   float64
}

// Config holds the matching rules for a reconciliation run.
type Config struct {
	AmountTolerance      decimal.Decimal
	MinInstallmentTotal  decimal.Decimal
	Weights              Weights
	DaysBefore           int // How many days an invoice may predate its payment
	DaysAfter            int // How many days an invoice may postdate its payment
	MaxSpanMonths        int
	MinInstallments      int
	PendingCandidates    int // Candidates listed per pending transaction
	Workers              int
	AutoApplyThreshold   float64
	TieEpsilon           float64
	CounterpartThreshold float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AmountTolerance:      decimal.RequireFromString("1.00"),
		MinInstallmentTotal:  decimal.RequireFromString("1000.00"),
		Weights:              Weights{Amount: 0.5, Date: 0.3, Text: 0.2},
		DaysBefore:           45,
		DaysAfter:            5,
		MaxSpanMonths:        12,
		MinInstallments:      2,
		PendingCandidates:    3,
		Workers:              8,
		AutoApplyThreshold:   0.85,
		TieEpsilon:           0.01,
		CounterpartThreshold: 0.6,
	}
}

// Validate checks the configuration for values that would make matching meaningless.
func (c Config) Validate() error {
	switch {
	case c.AmountTolerance.IsNegative():
		return fmt.Errorf("%w: amount tolerance must not be negative", common.ErrInvalidConfig)
	case c.DaysBefore < 0 || c.DaysAfter < 0:
		return fmt.Errorf("%w: date window must not be negative", common.ErrInvalidConfig)
	case c.Weights.Amount < 0 || c.Weights.Date < 0 || c.Weights.Text < 0:
		return fmt.Errorf("%w: score weights must not be negative", common.ErrInvalidConfig)
	case c.Weights.Amount+c.Weights.Date+c.Weights.Text == 0:
		return fmt.Errorf("%w: at least one score weight must be positive", common.ErrInvalidConfig)
	case c.AutoApplyThreshold <= 0 || c.AutoApplyThreshold > 1:
		return fmt.Errorf("%w: auto-apply threshold must be in (0,1], got %.2f", common.ErrInvalidConfig, c.AutoApplyThreshold)
	case c.TieEpsilon < 0:
		return fmt.Errorf("%w: tie epsilon must not be negative", common.ErrInvalidConfig)
	case c.MaxSpanMonths < 1:
		return fmt.Errorf("%w: installment span must be at least one month", common.ErrInvalidConfig)
	case c.MinInstallments < 2:
		return fmt.Errorf("%w: installment groups need at least two payments", common.ErrInvalidConfig)
	case c.CounterpartThreshold < 0 || c.CounterpartThreshold > 1:
		return fmt.Errorf("%w: counterpart threshold must be in [0,1]", common.ErrInvalidConfig)
	}
	return nil
}

// normalizedWeights scales the weights so they sum to one.
func (c Config) normalizedWeights() Weights {
	total := c.Weights.Amount + c.Weights.Date + c.Weights.Text
	if total <= 0 {
		return DefaultConfig().Weights
	}
	return Weights{
		Amount: c.Weights.Amount / total,
		Date:   c.Weights.Date / total,
		Text:   c.Weights.Text / total,
	}
}

// Package classify narrows CFDI invoices to a chart-of-accounts code in three
// confidence-gated phases: family, subfamily and account.
package classify

import (
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// Config holds the classification rules.
type Config struct {
	Depth              int // Phases to run, 1 to 3
	TopK               int // Evidence entries requested per phase
	Workers            int
	CacheTTL           time.Duration
	FamilyThreshold    float64
	SubfamilyThreshold float64
	AccountThreshold   float64
	Corroboration      float64 // Added when the declared usage agrees with the content
	ContextBoost       float64 // Added to codes the tenant usually spends on
	RetrievalWeight    float64 // Share of retrieved evidence in the semantic score
	CounterpartWeight  float64
	NoEvidence         float64 // Confidence when nothing but the candidate order decides
	DeclaredOnly       float64 // Confidence when only the declared usage decides
	LearnThreshold     float64 // Results at or above this confidence are remembered
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Depth:              3,
		TopK:               5,
		Workers:            4,
		CacheTTL:           30 * time.Minute,
		FamilyThreshold:    0.80,
		SubfamilyThreshold: 0.80,
		AccountThreshold:   0.80,
		Corroboration:      0.15,
		ContextBoost:       0.10,
		RetrievalWeight:    0.5,
		CounterpartWeight:  0.2,
		NoEvidence:         0.3,
		DeclaredOnly:       0.5,
		LearnThreshold:     0.9,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Depth < 1 || c.Depth > 3:
		return fmt.Errorf("%w: classification depth must be between 1 and 3, got %d", common.ErrInvalidConfig, c.Depth)
	case !unit(c.FamilyThreshold) || !unit(c.SubfamilyThreshold) || !unit(c.AccountThreshold):
		return fmt.Errorf("%w: phase thresholds must be in [0,1]", common.ErrInvalidConfig)
	case !unit(c.RetrievalWeight):
		return fmt.Errorf("%w: retrieval weight must be in [0,1]", common.ErrInvalidConfig)
	case c.Corroboration < 0 || c.ContextBoost < 0 || c.CounterpartWeight < 0:
		return fmt.Errorf("%w: boosts must not be negative", common.ErrInvalidConfig)
	case !unit(c.NoEvidence) || !unit(c.DeclaredOnly):
		return fmt.Errorf("%w: fallback confidences must be in [0,1]", common.ErrInvalidConfig)
	}
	return nil
}

// threshold returns the gate for a phase.
func (c Config) threshold(phase int) float64 {
	switch phase {
	case 1:
		return c.FamilyThreshold
	case 2:
		return c.SubfamilyThreshold
	default:
		return c.AccountThreshold
	}
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

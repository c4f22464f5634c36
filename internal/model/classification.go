package model

import "time"

// ClassificationLevel identifies a level of the chart of accounts.
type ClassificationLevel string

// Chart levels, from coarse to specific.
const (
	LevelFamily    ClassificationLevel = "family"
	LevelSubfamily ClassificationLevel = "subfamily"
	LevelAccount   ClassificationLevel = "account"
)

// PhaseResult is the output of a single classification phase.
type PhaseResult struct {
	Code           string
	OverrideReason string
	Evidence       EvidenceRankings
	Confidence     float64
	Override       bool
	Fallback       bool // The phase ran over the default candidate set
}

// ClassificationResult is the persisted classification of one invoice.
// A new result supersedes the previous one for the same invoice.
type ClassificationResult struct {
	ClassifiedAt        time.Time
	InvoiceID           string
	TenantID            string
	FamilyCode          string
	SubfamilyCode       string // Empty when phase 2 did not run
	AccountCode         string // Empty when phase 3 did not run
	DeclaredUsage       string
	OverrideReason      string
	FallbackPhases      []ClassificationLevel
	FamilyConfidence    float64
	SubfamilyConfidence float64
	AccountConfidence   float64
	Override            bool
	LowConfidence       bool
}

// BusinessContext describes what a tenant usually does and buys.
type BusinessContext struct {
	TenantID          string
	Industry          string
	TypicalCategories []string // Chart codes at any level
}

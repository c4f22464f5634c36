package model

import (
	"fmt"
	"sort"
)

// Evidence represents how strongly a source supports a chart code.
type Evidence struct {
	Code   string
	Source string
	Score  float64
}

// Validate ensures the Evidence has valid data.
func (e *Evidence) Validate() error {
	if e.Code == "" {
		return fmt.Errorf("code is required")
	}

	if e.Score < 0.0 || e.Score > 1.0 {
		return fmt.Errorf("score must be between 0.0 and 1.0, got %.2f", e.Score)
	}

	return nil
}

// EvidenceRankings is a slice of Evidence that supports sorting and utility methods.
type EvidenceRankings []Evidence

// Len implements sort.Interface.
func (r EvidenceRankings) Len() int {
	return len(r)
}

// Less implements sort.Interface - higher scores come first.
func (r EvidenceRankings) Less(i, j int) bool {
	if r[i].Score != r[j].Score {
		return r[i].Score > r[j].Score
	}
	// If scores are equal, sort by code for consistency
	return r[i].Code < r[j].Code
}

// Swap implements sort.Interface.
func (r EvidenceRankings) Swap(i, j int) {
	r[i], r[j] = r[j], r[i]
}

// Sort sorts the rankings by score in descending order.
func (r EvidenceRankings) Sort() {
	sort.Sort(r)
}

// Top returns the highest-scoring entry, or nil if empty.
func (r EvidenceRankings) Top() *Evidence {
	if len(r) == 0 {
		return nil
	}
	r.Sort()
	return &r[0]
}

// TopN returns the N highest-scoring entries.
func (r EvidenceRankings) TopN(n int) EvidenceRankings {
	if n <= 0 {
		return EvidenceRankings{}
	}

	r.Sort()

	if n > len(r) {
		n = len(r)
	}

	result := make(EvidenceRankings, n)
	copy(result, r[:n])
	return result
}

// Restrict keeps only entries whose code is in the allowed set.
func (r EvidenceRankings) Restrict(allowed []string) EvidenceRankings {
	set := make(map[string]bool, len(allowed))
	for _, code := range allowed {
		set[code] = true
	}

	var result EvidenceRankings
	for _, e := range r {
		if set[e.Code] {
			result = append(result, e)
		}
	}
	return result
}

// Validate ensures all rankings in the slice are valid.
func (r EvidenceRankings) Validate() error {
	seen := make(map[string]bool)

	for i, e := range r {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid evidence at index %d: %w", i, err)
		}

		if seen[e.Code] {
			return fmt.Errorf("duplicate code %q in rankings", e.Code)
		}
		seen[e.Code] = true
	}

	return nil
}

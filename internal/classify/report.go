package classify

import (
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Failure is an invoice that could not be classified.
type Failure struct {
	Err       error
	InvoiceID string
}

// Report is the outcome of classifying one tenant.
type Report struct {
	StartedAt     time.Time
	TenantID      string
	Results       []model.ClassificationResult
	Failures      []Failure
	Skipped       int // Already classified or cancelled
	Overrides     int
	LowConfidence int
	Fallbacks     int
	Duration      time.Duration
}

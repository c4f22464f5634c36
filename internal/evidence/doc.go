// Package evidence provides semantic evidence for invoice classification.
// Retrievers rank chart codes for a piece of invoice content; remote retrievers are
// wrapped with a per-attempt timeout, a single retry and rate limiting, and report
// common.ErrEvidenceUnavailable when they cannot answer.
package evidence

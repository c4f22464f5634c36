package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// DefaultTimeout bounds a single remote evidence attempt.
const DefaultTimeout = 3 * time.Second

// Resilient wraps a remote retriever with a per-attempt timeout, one retry and rate limiting.
type Resilient struct {
	inner   Retriever
	limiter *rate.Limiter
	opts    service.RetryOptions
}

// NewResilient wraps inner. A nil limiter disables rate limiting.
func NewResilient(inner Retriever, timeout time.Duration, limiter *rate.Limiter) *Resilient {
	timeout = timeoutOrDefault(timeout)
	return &Resilient{
		inner:   inner,
		limiter: limiter,
		opts: service.RetryOptions{
			MaxAttempts:    2,
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
			Multiplier:     2,
			AttemptTimeout: timeout,
		},
	}
}

// Retrieve implements Retriever. Any failure other than the caller's own cancellation
// is reported as common.ErrEvidenceUnavailable.
func (r *Resilient) Retrieve(ctx context.Context, q Query, topK int) (model.EvidenceRankings, error) {
	var rankings model.EvidenceRankings

	err := common.WithRetry(ctx, func(ctx context.Context) error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter canceled: %w", err)
			}
		}

		result, err := r.inner.Retrieve(ctx, q, topK)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: true}
		}
		if err := result.Validate(); err != nil {
			return &common.RetryableError{Err: fmt.Errorf("invalid rankings: %w", err), Retryable: false}
		}
		rankings = result
		return nil
	}, r.opts)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		slog.Warn("Evidence retrieval unavailable",
			"level", q.Level,
			"tenant", q.TenantID,
			"error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrEvidenceUnavailable, err)
	}

	if len(q.Candidates) > 0 {
		rankings = rankings.Restrict(q.Codes())
	}
	if topK > 0 {
		rankings = rankings.TopN(topK)
	}
	return rankings, nil
}

package classify

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// resultCache holds the latest classification per invoice ID.
type resultCache struct {
	c *cache.Cache
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &resultCache{c: cache.New(ttl, 2*ttl)}
}

func (r *resultCache) get(invoiceID string) (*model.ClassificationResult, bool) {
	v, ok := r.c.Get(invoiceID)
	if !ok {
		return nil, false
	}
	result, ok := v.(model.ClassificationResult)
	if !ok {
		return nil, false
	}
	return cloneResult(result), true
}

func (r *resultCache) set(result *model.ClassificationResult) {
	r.c.Set(result.InvoiceID, *cloneResult(*result), cache.DefaultExpiration)
}

func (r *resultCache) invalidate(invoiceID string) {
	r.c.Delete(invoiceID)
}

func cloneResult(result model.ClassificationResult) *model.ClassificationResult {
	result.FallbackPhases = append([]model.ClassificationLevel(nil), result.FallbackPhases...)
	return &result
}

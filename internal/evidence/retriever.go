package evidence

import (
	"context"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Candidate is a chart code the caller is willing to accept.
type Candidate struct {
	Code string
	Name string
}

// Query asks for evidence about one invoice at one chart level.
type Query struct {
	TenantID   string
	Content    string
	Level      model.ClassificationLevel
	Candidates []Candidate
}

// Codes returns the candidate codes in order.
func (q Query) Codes() []string {
	codes := make([]string, 0, len(q.Candidates))
	for _, c := range q.Candidates {
		codes = append(codes, c.Code)
	}
	return codes
}

// Retriever ranks candidate codes for invoice content. It may fail or time out.
type Retriever interface {
	Retrieve(ctx context.Context, q Query, topK int) (model.EvidenceRankings, error)
}

// Learner remembers a confirmed classification so later retrievals can use it.
type Learner interface {
	Remember(ctx context.Context, tenantID, content string, level model.ClassificationLevel, code string) error
}

// Seeder stores chart descriptions so retrieval works before anything was learned.
type Seeder interface {
	Seed(ctx context.Context, level model.ClassificationLevel, candidates []Candidate) error
}

// None is a retriever with nothing to say. Classification then relies on the lexicon alone.
type None struct{}

// Retrieve implements Retriever.
func (None) Retrieve(context.Context, Query, int) (model.EvidenceRankings, error) {
	return model.EvidenceRankings{}, nil
}

package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Config selects and configures the evidence provider.
type Config struct {
	Provider          string // "none", "qdrant" or "openai"
	OpenAI            OpenAIConfig
	Qdrant            QdrantConfig
	Timeout           time.Duration
	RequestsPerMinute int
}

// Source bundles a retriever with its optional learner.
type Source struct {
	Retriever Retriever
	Learner   Learner
	Seeder    Seeder
	closers   []func() error
}

// Close releases connections held by the source.
func (s *Source) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New creates the evidence source for the given configuration.
// Remote providers are wrapped with timeout, retry and rate limiting.
func New(ctx context.Context, cfg Config) (*Source, error) {
	switch cfg.Provider {
	case "", "none":
		return &Source{Retriever: None{}}, nil

	case "openai":
		ranker, err := NewChatRanker(cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat ranker: %w", err)
		}
		return &Source{
			Retriever: NewResilient(ranker, cfg.Timeout, newLimiter(cfg.RequestsPerMinute)),
		}, nil

	case "qdrant":
		embedder, err := NewOpenAIEmbedder(cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		retriever, err := NewQdrantRetriever(cfg.Qdrant, embedder)
		if err != nil {
			return nil, err
		}
		// An unreachable store degrades each classification phase to its
		// fallback instead of failing startup. Seed and Remember retry the setup.
		setupCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.Timeout))
		if err := retriever.EnsureCollection(setupCtx); err != nil {
			slog.Warn("Qdrant collection setup failed, evidence will be unavailable until it recovers",
				"addr", cfg.Qdrant.Addr,
				"error", err)
		}
		cancel()
		return &Source{
			Retriever: NewResilient(retriever, cfg.Timeout, newLimiter(cfg.RequestsPerMinute)),
			Learner:   retriever,
			Seeder:    retriever,
			closers:   []func() error{retriever.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported evidence provider: %s", cfg.Provider)
	}
}

// newLimiter allows requestsPerMinute calls per minute with a burst of the same size.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

package evidence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const (
	defaultChatModel      = openai.GPT4oMini
	defaultEmbeddingModel = openai.SmallEmbedding3
)

// OpenAIConfig configures the OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // Empty uses the public API
	ChatModel      string
	EmbeddingModel string
}

func newOpenAIClient(cfg OpenAIConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(config), nil
}

// ChatRanker asks a chat model to rank the candidate codes for an invoice.
type ChatRanker struct {
	client *openai.Client
	model  string
}

// NewChatRanker creates a ranker backed by the chat completions API.
func NewChatRanker(cfg OpenAIConfig) (*ChatRanker, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.ChatModel
	if model == "" {
		model = defaultChatModel
	}
	return &ChatRanker{client: client, model: model}, nil
}

// Retrieve implements Retriever.
func (r *ChatRanker) Retrieve(ctx context.Context, q Query, topK int) (model.EvidenceRankings, error) {
	if len(q.Candidates) == 0 {
		return model.EvidenceRankings{}, nil
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rankerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildRankingPrompt(q)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", wrapAPIError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	rankings, err := parseRankings(resp.Choices[0].Message.Content, q.Codes(), "chat")
	if err != nil {
		return nil, err
	}
	if topK > 0 {
		rankings = rankings.TopN(topK)
	}
	return rankings, nil
}

const rankerSystemPrompt = "You classify Mexican electronic invoices (CFDI) into a chart of accounts. " +
	"Respond with the ranking format only, no commentary."

func buildRankingPrompt(q Query) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Invoice content:\n%s\n\n", q.Content)
	fmt.Fprintf(&sb, "Chart level: %s\n\nCandidate codes:\n", q.Level)
	for _, c := range q.Candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Code, c.Name)
	}
	sb.WriteString(`
Rank EVERY candidate code by how well it describes the invoice (0.0 to 1.0).
Return results in this exact format:

RANKINGS:
code|score
code|score
`)
	return sb.String()
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder produces embeddings through the embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder backed by the embeddings API.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	model := openai.EmbeddingModel(cfg.EmbeddingModel)
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &OpenAIEmbedder{client: client, model: model}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", wrapAPIError(err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

// wrapAPIError marks throttling responses with common.ErrRateLimit.
func wrapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	}
	return err
}

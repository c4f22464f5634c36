// Package config loads the typed application configuration from viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/evidence"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
)

// DefaultDatabasePath is used when database.path is not configured.
const DefaultDatabasePath = "$HOME/.local/share/balance/balance.db"

// Config is the typed application configuration.
type Config struct {
	DatabasePath string
	APIAddr      string
	Reconcile    reconcile.Config
	Classify     classify.Config
	Evidence     evidence.Config
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	rc := reconcile.DefaultConfig()
	cc := classify.DefaultConfig()

	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("api.addr", ":8080")

	v.SetDefault("reconcile.amount_tolerance", rc.AmountTolerance.StringFixed(2))
	v.SetDefault("reconcile.min_installment_total", rc.MinInstallmentTotal.StringFixed(2))
	v.SetDefault("reconcile.weights.amount", rc.Weights.Amount)
	v.SetDefault("reconcile.weights.date", rc.Weights.Date)
	v.SetDefault("reconcile.weights.text", rc.Weights.Text)
	v.SetDefault("reconcile.days_before", rc.DaysBefore)
	v.SetDefault("reconcile.days_after", rc.DaysAfter)
	v.SetDefault("reconcile.max_span_months", rc.MaxSpanMonths)
	v.SetDefault("reconcile.min_installments", rc.MinInstallments)
	v.SetDefault("reconcile.pending_candidates", rc.PendingCandidates)
	v.SetDefault("reconcile.workers", rc.Workers)
	v.SetDefault("reconcile.auto_apply_threshold", rc.AutoApplyThreshold)
	v.SetDefault("reconcile.tie_epsilon", rc.TieEpsilon)
	v.SetDefault("reconcile.counterpart_threshold", rc.CounterpartThreshold)

	v.SetDefault("classify.depth", cc.Depth)
	v.SetDefault("classify.top_k", cc.TopK)
	v.SetDefault("classify.workers", cc.Workers)
	v.SetDefault("classify.cache_ttl", cc.CacheTTL)
	v.SetDefault("classify.family_threshold", cc.FamilyThreshold)
	v.SetDefault("classify.subfamily_threshold", cc.SubfamilyThreshold)
	v.SetDefault("classify.account_threshold", cc.AccountThreshold)
	v.SetDefault("classify.learn_threshold", cc.LearnThreshold)

	v.SetDefault("evidence.provider", "none")
	v.SetDefault("evidence.timeout", evidence.DefaultTimeout)
	v.SetDefault("evidence.requests_per_minute", 60)
	v.SetDefault("evidence.qdrant.collection", evidence.DefaultCollection)
	v.SetDefault("evidence.qdrant.vector_size", 1536)
}

// Load reads the typed configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	tolerance, err := decimal.NewFromString(v.GetString("reconcile.amount_tolerance"))
	if err != nil {
		return nil, fmt.Errorf("%w: reconcile.amount_tolerance: %v", common.ErrInvalidConfig, err)
	}
	minTotal, err := decimal.NewFromString(v.GetString("reconcile.min_installment_total"))
	if err != nil {
		return nil, fmt.Errorf("%w: reconcile.min_installment_total: %v", common.ErrInvalidConfig, err)
	}

	rc := reconcile.Config{
		AmountTolerance:     tolerance,
		MinInstallmentTotal: minTotal,
		Weights: reconcile.Weights{
			Amount: v.GetFloat64("reconcile.weights.amount"),
			Date:   v.GetFloat64("reconcile.weights.date"),
			Text:   v.GetFloat64("reconcile.weights.text"),
		},
		DaysBefore:           v.GetInt("reconcile.days_before"),
		DaysAfter:            v.GetInt("reconcile.days_after"),
		MaxSpanMonths:        v.GetInt("reconcile.max_span_months"),
		MinInstallments:      v.GetInt("reconcile.min_installments"),
		PendingCandidates:    v.GetInt("reconcile.pending_candidates"),
		Workers:              v.GetInt("reconcile.workers"),
		AutoApplyThreshold:   v.GetFloat64("reconcile.auto_apply_threshold"),
		TieEpsilon:           v.GetFloat64("reconcile.tie_epsilon"),
		CounterpartThreshold: v.GetFloat64("reconcile.counterpart_threshold"),
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}

	cc := classify.DefaultConfig()
	cc.Depth = v.GetInt("classify.depth")
	cc.TopK = v.GetInt("classify.top_k")
	cc.Workers = v.GetInt("classify.workers")
	cc.CacheTTL = v.GetDuration("classify.cache_ttl")
	cc.FamilyThreshold = v.GetFloat64("classify.family_threshold")
	cc.SubfamilyThreshold = v.GetFloat64("classify.subfamily_threshold")
	cc.AccountThreshold = v.GetFloat64("classify.account_threshold")
	cc.LearnThreshold = v.GetFloat64("classify.learn_threshold")
	if err := cc.Validate(); err != nil {
		return nil, err
	}

	apiKey := v.GetString("evidence.openai.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	ec := evidence.Config{
		Provider:          v.GetString("evidence.provider"),
		Timeout:           v.GetDuration("evidence.timeout"),
		RequestsPerMinute: v.GetInt("evidence.requests_per_minute"),
		OpenAI: evidence.OpenAIConfig{
			APIKey:         apiKey,
			BaseURL:        v.GetString("evidence.openai.base_url"),
			ChatModel:      v.GetString("evidence.openai.chat_model"),
			EmbeddingModel: v.GetString("evidence.openai.embedding_model"),
		},
		Qdrant: evidence.QdrantConfig{
			Addr:       v.GetString("evidence.qdrant.addr"),
			Collection: v.GetString("evidence.qdrant.collection"),
			VectorSize: v.GetUint64("evidence.qdrant.vector_size"),
		},
	}
	switch ec.Provider {
	case "none", "openai", "qdrant":
	default:
		return nil, fmt.Errorf("%w: unknown evidence provider %q", common.ErrInvalidConfig, ec.Provider)
	}
	if ec.Timeout <= 0 {
		return nil, fmt.Errorf("%w: evidence.timeout must be positive", common.ErrInvalidConfig)
	}

	return &Config{
		DatabasePath: databasePath(v.GetString("database.path")),
		APIAddr:      v.GetString("api.addr"),
		Reconcile:    rc,
		Classify:     cc,
		Evidence:     ec,
	}, nil
}

// databasePath resolves $VARS and a leading ~ in a configured database location.
// SQLite DSNs such as ":memory:" or "file:..." pass through unchanged.
func databasePath(raw string) string {
	if raw == "" || raw == ":memory:" || strings.HasPrefix(raw, "file:") {
		return raw
	}

	p := os.ExpandEnv(raw)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return filepath.Clean(p)
}

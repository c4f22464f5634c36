package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "/home/test/.local/share/balance/balance.db", cfg.DatabasePath)
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, "1.00", cfg.Reconcile.AmountTolerance.StringFixed(2))
	assert.Equal(t, 45, cfg.Reconcile.DaysBefore)
	assert.Equal(t, 0.85, cfg.Reconcile.AutoApplyThreshold)
	assert.Equal(t, 3, cfg.Classify.Depth)
	assert.Equal(t, 0.80, cfg.Classify.FamilyThreshold)
	assert.Equal(t, "none", cfg.Evidence.Provider)
	assert.Equal(t, 3*time.Second, cfg.Evidence.Timeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/books.db
reconcile:
  amount_tolerance: "0.50"
  days_before: 30
classify:
  depth: 2
  cache_ttl: 5m
evidence:
  provider: qdrant
  timeout: 2s
  openai:
    api_key: sk-test
  qdrant:
    addr: localhost:6334
`), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/books.db", cfg.DatabasePath)
	assert.Equal(t, "0.50", cfg.Reconcile.AmountTolerance.StringFixed(2))
	assert.Equal(t, 30, cfg.Reconcile.DaysBefore)
	assert.Equal(t, 5, cfg.Reconcile.DaysAfter)
	assert.Equal(t, 2, cfg.Classify.Depth)
	assert.Equal(t, 5*time.Minute, cfg.Classify.CacheTTL)
	assert.Equal(t, "qdrant", cfg.Evidence.Provider)
	assert.Equal(t, 2*time.Second, cfg.Evidence.Timeout)
	assert.Equal(t, "sk-test", cfg.Evidence.OpenAI.APIKey)
	assert.Equal(t, "localhost:6334", cfg.Evidence.Qdrant.Addr)
	assert.Equal(t, uint64(1536), cfg.Evidence.Qdrant.VectorSize)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"bad tolerance", "reconcile.amount_tolerance", "one peso"},
		{"negative tolerance", "reconcile.amount_tolerance", "-1"},
		{"threshold above one", "reconcile.auto_apply_threshold", 1.5},
		{"depth too deep", "classify.depth", 4},
		{"unknown provider", "evidence.provider", "pinecone"},
		{"zero timeout", "evidence.timeout", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestDatabasePath(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	t.Setenv("BOOKS", "/srv/books")

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"~", "/home/test"},
		{"~/balance.db", "/home/test/balance.db"},
		{"$BOOKS/balance.db", "/srv/books/balance.db"},
		{"/abs/../abs/path.db", "/abs/path.db"},
		{":memory:", ":memory:"},
		{"file:test.db?cache=shared", "file:test.db?cache=shared"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, databasePath(tt.input), tt.input)
	}
}

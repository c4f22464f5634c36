package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRankings(t *testing.T) {
	allowed := []string{"15", "50", "60"}

	tests := []struct {
		name    string
		content string
		want    map[string]float64
		wantErr bool
	}{
		{
			name:    "plain rankings",
			content: "RANKINGS:\n15|0.9\n60|0.3\n50|0.1",
			want:    map[string]float64{"15": 0.9, "60": 0.3, "50": 0.1},
		},
		{
			name:    "percentages and whitespace",
			content: "Here you go\nRANKINGS:\n 15 | 85% \n60|20%",
			want:    map[string]float64{"15": 0.85, "60": 0.2},
		},
		{
			name:    "unknown codes and duplicates skipped",
			content: "RANKINGS:\n99|0.9\n15|0.7\n15|0.1\nnonsense",
			want:    map[string]float64{"15": 0.7},
		},
		{
			name:    "scores clamped",
			content: "RANKINGS:\n15|1.4\n50|-0.2",
			want:    map[string]float64{"15": 1, "50": 0},
		},
		{
			name:    "fenced block",
			content: "```\nRANKINGS:\n50|0.5\n```",
			want:    map[string]float64{"50": 0.5},
		},
		{
			name:    "no rankings marker",
			content: "15|0.9",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRankings(tt.content, allowed, "chat")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			scores := make(map[string]float64)
			for _, e := range got {
				assert.Equal(t, "chat", e.Source)
				scores[e.Code] = e.Score
			}
			assert.InDeltaMapValues(t, tt.want, scores, 1e-9)
		})
	}
}

package evidence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// parseRankings reads "code|score" lines following a RANKINGS: marker.
// Unknown codes, malformed lines and repeated codes are skipped.
func parseRankings(content string, allowed []string, source string) (model.EvidenceRankings, error) {
	known := make(map[string]bool, len(allowed))
	for _, code := range allowed {
		known[code] = true
	}

	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var rankings model.EvidenceRankings
	seen := make(map[string]bool)
	inRankings := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "RANKINGS:") {
			inRankings = true
			continue
		}
		if !inRankings {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 2 {
			continue
		}

		code := strings.TrimSpace(parts[0])
		if len(known) > 0 && !known[code] {
			continue
		}
		if seen[code] {
			continue
		}

		score, ok := parseScore(strings.TrimSpace(parts[1]))
		if !ok {
			continue
		}

		seen[code] = true
		rankings = append(rankings, model.Evidence{Code: code, Score: score, Source: source})
	}

	if len(rankings) == 0 {
		return nil, fmt.Errorf("no valid rankings found in response")
	}

	rankings.Sort()
	return rankings, nil
}

func parseScore(s string) (float64, bool) {
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	score, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		score /= 100
	}
	return clamp01(score), true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

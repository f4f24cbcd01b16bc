package retrieval

import (
	"math"
	"strings"
	"time"

	"github.com/fernwright/questweaver/pkg/types"
)

// Keyword scoring constants. Tunable weights, not invariants.
const (
	keywordHitPoints     = 10.0
	recencyBonusMax      = 20.0
	highSignalBonus      = 15.0
	participantBonus     = 25.0
	compositeRecencyHalf = 30.0 // days for the recency decay denominator
)

// KeywordScore rates a record against the query's keywords: 10 points
// per keyword hit, a recency bonus of max(0, 20-daysAgo), +15 for
// records born from high-signal events, and +25 when a participant named
// in the record also appears in the query.
func KeywordScore(record *types.MemoryRecord, keywords []string, queryLower string, now time.Time) float64 {
	textLower := strings.ToLower(record.Text)

	score := 0.0
	for _, kw := range keywords {
		if strings.Contains(textLower, kw) {
			score += keywordHitPoints
		}
	}

	daysAgo := now.Sub(record.CreatedAt).Hours() / 24
	if bonus := recencyBonusMax - daysAgo; bonus > 0 {
		score += bonus
	}

	if types.EventType(record.Metadata["event_type"]).IsHighSignal() {
		score += highSignalBonus
	}

	if participants := record.Metadata["participants"]; participants != "" {
		for _, name := range strings.Split(participants, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" && strings.Contains(queryLower, name) {
				score += participantBonus
				break
			}
		}
	}

	return score
}

// CompositeScore is the final ranking function across sources. It is a
// pure function of its inputs so retrieval is deterministic for a given
// snapshot: wRecency*exp(-ageDays/30) + wRelevance*relevance +
// wImportance*importance.
func CompositeScore(ageDays, relevance, importance, wRecency, wRelevance, wImportance float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return wRecency*math.Exp(-ageDays/compositeRecencyHalf) +
		wRelevance*relevance +
		wImportance*importance
}

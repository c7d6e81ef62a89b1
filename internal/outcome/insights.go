package outcome

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"hyperliquid-trading-bot/internal/patterns"
)

// TradeContext is the slice of a closed trade the aggregator needs
type TradeContext struct {
	Patterns []patterns.PatternType
	Win      bool
}

// LearningInsight records a pattern whose observed win rate diverges from the
// overall baseline
type LearningInsight struct {
	ID              uuid.UUID            `json:"id"`
	Pattern         patterns.PatternType `json:"pattern"`
	SampleSize      int                  `json:"sample_size"`
	WinRate         float64              `json:"win_rate"`
	BaselineWinRate float64              `json:"baseline_win_rate"`
	Delta           float64              `json:"delta"`
	Confidence      float64              `json:"confidence"`
	Active          bool                 `json:"active"`
	CreatedAt       time.Time            `json:"created_at"`
}

// InsightConfig bounds which divergences become insights
type InsightConfig struct {
	MinDelta      float64
	MinSample     int
	MinConfidence float64
}

// DefaultInsightConfig returns the aggregation defaults
func DefaultInsightConfig() InsightConfig {
	return InsightConfig{
		MinDelta:      0.1,
		MinSample:     3,
		MinConfidence: 0.6,
	}
}

// AggregateInsights scans closed trades and emits one insight per pattern
// whose win rate diverges from the baseline by more than MinDelta, with
// enough samples and confidence.
func AggregateInsights(trades []TradeContext, cfg InsightConfig, now time.Time) []LearningInsight {
	if cfg.MinSample <= 0 {
		cfg.MinSample = 3
	}
	if len(trades) == 0 {
		return nil
	}

	var baselineWins int
	type tally struct {
		total int
		wins  int
	}
	byPattern := make(map[patterns.PatternType]*tally)
	for _, t := range trades {
		if t.Win {
			baselineWins++
		}
		for _, p := range t.Patterns {
			entry := byPattern[p]
			if entry == nil {
				entry = &tally{}
				byPattern[p] = entry
			}
			entry.total++
			if t.Win {
				entry.wins++
			}
		}
	}
	baseline := float64(baselineWins) / float64(len(trades))

	var insights []LearningInsight
	for pattern, entry := range byPattern {
		if entry.total < cfg.MinSample {
			continue
		}
		winRate := float64(entry.wins) / float64(entry.total)
		delta := winRate - baseline
		if math.Abs(delta) <= cfg.MinDelta {
			continue
		}
		confidence := insightConfidence(entry.total, delta)
		if confidence < cfg.MinConfidence {
			continue
		}
		insights = append(insights, LearningInsight{
			ID:              uuid.New(),
			Pattern:         pattern,
			SampleSize:      entry.total,
			WinRate:         winRate,
			BaselineWinRate: baseline,
			Delta:           delta,
			Confidence:      confidence,
			Active:          true,
			CreatedAt:       now,
		})
	}

	sort.Slice(insights, func(i, j int) bool {
		if insights[i].Confidence != insights[j].Confidence {
			return insights[i].Confidence > insights[j].Confidence
		}
		return insights[i].Pattern < insights[j].Pattern
	})
	return insights
}

// insightConfidence grows with sample size and effect size, saturating at 1
func insightConfidence(sample int, delta float64) float64 {
	sampleFactor := math.Min(float64(sample)/10, 1)
	effectFactor := math.Min(math.Abs(delta)/0.2, 1)
	return 0.5*sampleFactor + 0.5*effectFactor
}

// DeactivateStale flips off insights whose confidence has decayed below 0.3
func DeactivateStale(insights []*LearningInsight) int {
	var n int
	for _, ins := range insights {
		if ins.Active && ins.Confidence < 0.3 {
			ins.Active = false
			n++
		}
	}
	return n
}

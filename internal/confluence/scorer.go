package confluence

import (
	"fmt"

	"hyperliquid-trading-bot/internal/cycle"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/patterns"
	"hyperliquid-trading-bot/internal/structure"
)

// EntryBias is the trade direction implied by the analysis
type EntryBias string

const (
	Long  EntryBias = "long"
	Short EntryBias = "short"
	None  EntryBias = "none"
)

// Quality buckets the total score
type Quality string

const (
	QualityLow         Quality = "low"
	QualityStrong      Quality = "strong"
	QualityExcellent   Quality = "excellent"
	QualityExceptional Quality = "exceptional"
)

// TimeframeContext is the per-timeframe analysis input to the scorer
type TimeframeContext struct {
	Timeframe        market.Timeframe
	Candles          []market.Candle
	Patterns         []patterns.DetectedPattern
	TrendDirection   structure.Trend
	TrendStrength    float64 // [0, 1]
	MarketCycle      cycle.MarketCycle
	CycleConfidence  float64 // [0, 1]
	InSupportZone    bool
	InResistanceZone bool
	ZoneStrength     float64 // [0, 1]
	RecentBOS        *structure.StructureBreak
}

// Score is the full confluence result
type Score struct {
	Total              float64          `json:"total"`
	Pattern            float64          `json:"pattern"`
	Structure          float64          `json:"structure"`
	Cycle              float64          `json:"cycle"`
	TimeframeAlignment float64          `json:"timeframe_alignment"`
	Zone               float64          `json:"zone"`
	Quality            Quality          `json:"quality"`
	EntryBias          EntryBias        `json:"entry_bias"`
	GeneratesSignal    bool             `json:"generates_signal"`
	Factors            []string         `json:"factors"`
	Warnings           []string         `json:"warnings"`
	EntryTimeframe     market.Timeframe `json:"entry_timeframe"`
	HTFTimeframe       market.Timeframe `json:"htf_timeframe"`
	HTFTrend           structure.Trend  `json:"htf_trend"`
}

// Weights for combining sub-scores; they must sum to 1.0
type Weights struct {
	Pattern   float64
	Structure float64
	Cycle     float64
	Timeframe float64
	Zone      float64
}

// Config holds scorer thresholds
type Config struct {
	Weights    Weights
	MinTotal   float64 // signal gate on the total
	MinPattern float64 // signal gate on the pattern sub-score
}

// DefaultConfig returns the scorer defaults
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Pattern:   0.30,
			Structure: 0.25,
			Cycle:     0.15,
			Timeframe: 0.20,
			Zone:      0.10,
		},
		MinTotal:   0.65,
		MinPattern: 0.50,
	}
}

// Scorer combines per-timeframe analysis into a single confluence score.
// Score is pure: the same contexts always produce the same result.
type Scorer struct {
	cfg Config
}

// NewScorer creates a confluence scorer
func NewScorer(cfg Config) *Scorer {
	if cfg.MinTotal <= 0 {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// Score evaluates the contexts against the primary (entry) timeframe. The
// higher timeframe is the largest context timeframe at least 4x the primary.
func (s *Scorer) Score(contexts []TimeframeContext, primary market.Timeframe) *Score {
	result := &Score{
		EntryTimeframe: primary,
		EntryBias:      None,
		Quality:        QualityLow,
		HTFTrend:       structure.TrendNeutral,
	}

	entry := findContext(contexts, primary)
	if entry == nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("no context for entry timeframe %s", primary))
		return result
	}

	tfs := make([]market.Timeframe, 0, len(contexts))
	for _, c := range contexts {
		tfs = append(tfs, c.Timeframe)
	}
	result.HTFTimeframe = market.HigherTimeframe(primary, tfs, 4)
	htf := findContext(contexts, result.HTFTimeframe)
	if htf != nil {
		result.HTFTrend = htf.TrendDirection
	}

	bias, agreeing := entryBias(entry.Patterns)
	result.EntryBias = bias
	if bias == None {
		result.Warnings = append(result.Warnings, "no directional pattern bias on entry timeframe")
	}

	result.Pattern = s.patternScore(entry, bias, agreeing, result)
	result.Structure = s.structureScore(entry, htf, bias, result)
	result.Cycle = s.cycleScore(entry, result)
	result.TimeframeAlignment = s.timeframeScore(contexts, bias, result)
	result.Zone = s.zoneScore(entry, bias, result)

	w := s.cfg.Weights
	result.Total = clamp01(
		w.Pattern*result.Pattern +
			w.Structure*result.Structure +
			w.Cycle*result.Cycle +
			w.Timeframe*result.TimeframeAlignment +
			w.Zone*result.Zone,
	)

	result.Quality = quality(result.Total)
	result.GeneratesSignal = result.Total >= s.cfg.MinTotal &&
		result.Pattern >= s.cfg.MinPattern &&
		bias != None

	return result
}

// patternScore takes the strongest same-bias pattern and boosts agreement by
// up to +0.10
func (s *Scorer) patternScore(entry *TimeframeContext, bias EntryBias, agreeing int, out *Score) float64 {
	if bias == None {
		return 0
	}

	want := patterns.Bullish
	if bias == Short {
		want = patterns.Bearish
	}

	var best *patterns.DetectedPattern
	for i := range entry.Patterns {
		p := &entry.Patterns[i]
		if p.Signal != want {
			continue
		}
		if best == nil || p.Strength > best.Strength {
			best = p
		}
	}
	if best == nil {
		return 0
	}

	score := best.Strength
	if agreeing >= 2 {
		boost := 0.05 * float64(agreeing-1)
		if boost > 0.10 {
			boost = 0.10
		}
		score += boost
		out.Factors = append(out.Factors, fmt.Sprintf("%d aligned %s patterns on %s", agreeing, bias, entry.Timeframe))
	}
	out.Factors = append(out.Factors, fmt.Sprintf("%s pattern on %s (confidence %.2f)", best.Type, entry.Timeframe, best.Strength))
	return clamp01(score)
}

// structureScore rewards HTF trend agreement and a matching recent BOS on the
// entry timeframe; an opposing HTF trend costs points and emits a warning
func (s *Scorer) structureScore(entry, htf *TimeframeContext, bias EntryBias, out *Score) float64 {
	if bias == None {
		return 0
	}

	score := 0.0
	if htf != nil && htf.Timeframe != entry.Timeframe {
		switch {
		case trendMatches(htf.TrendDirection, bias):
			score += 0.5 * htf.TrendStrength
			out.Factors = append(out.Factors, fmt.Sprintf("%s trend on %s aligned (strength %.2f)", htf.TrendDirection, htf.Timeframe, htf.TrendStrength))
		case trendMatches(htf.TrendDirection, opposite(bias)):
			score -= 0.2 * htf.TrendStrength
			out.Warnings = append(out.Warnings, fmt.Sprintf("higher timeframe %s trend conflicts with %s bias", htf.Timeframe, bias))
		}
	}

	if entry.RecentBOS != nil && trendMatches(entry.RecentBOS.Trend, bias) {
		score += 0.3
		out.Factors = append(out.Factors, fmt.Sprintf("recent %s break of structure on %s", entry.RecentBOS.Trend, entry.Timeframe))
	}

	return clamp01(score)
}

// cycleScore checks whether the entry pattern suits the current cycle
func (s *Scorer) cycleScore(entry *TimeframeContext, out *Score) float64 {
	rec := cycle.GetRecommendation(cycle.Classification{Cycle: entry.MarketCycle})

	base := 0.4
	for _, p := range entry.Patterns {
		if patternIn(rec.PreferredPatterns, p.Type) {
			base = 0.7
			out.Factors = append(out.Factors, fmt.Sprintf("%s pattern favored in %s cycle", p.Type, entry.MarketCycle))
			break
		}
	}
	return clamp01(base * entry.CycleConfidence)
}

// timeframeScore measures trend agreement across all supplied contexts
func (s *Scorer) timeframeScore(contexts []TimeframeContext, bias EntryBias, out *Score) float64 {
	if bias == None || len(contexts) < 2 {
		return 0.5
	}

	matching, conflicting := 0, 0
	for _, c := range contexts {
		switch {
		case trendMatches(c.TrendDirection, bias):
			matching++
		case trendMatches(c.TrendDirection, opposite(bias)):
			conflicting++
		}
	}

	n := len(contexts)
	switch {
	case matching == n:
		out.Factors = append(out.Factors, fmt.Sprintf("all %d timeframes trend %s", n, bias))
		return 1.0
	case conflicting > matching:
		out.Warnings = append(out.Warnings, "majority of timeframes trend against the entry bias")
		return 0.2
	case matching > conflicting:
		return 0.75
	default:
		return 0.5
	}
}

// zoneScore rewards entries from the matching zone side and penalizes entries
// into the opposing side
func (s *Scorer) zoneScore(entry *TimeframeContext, bias EntryBias, out *Score) float64 {
	switch bias {
	case Long:
		if entry.InResistanceZone {
			out.Warnings = append(out.Warnings, "long bias inside a resistance zone")
			return 0
		}
		if entry.InSupportZone {
			out.Factors = append(out.Factors, fmt.Sprintf("price at support (strength %.2f)", entry.ZoneStrength))
			return clamp01(0.5 + 0.5*entry.ZoneStrength)
		}
	case Short:
		if entry.InSupportZone {
			out.Warnings = append(out.Warnings, "short bias inside a support zone")
			return 0
		}
		if entry.InResistanceZone {
			out.Factors = append(out.Factors, fmt.Sprintf("price at resistance (strength %.2f)", entry.ZoneStrength))
			return clamp01(0.5 + 0.5*entry.ZoneStrength)
		}
	}
	return 0.3
}

func entryBias(detected []patterns.DetectedPattern) (EntryBias, int) {
	bias, agreeing := patterns.DominantBias(detected)
	switch bias {
	case patterns.Bullish:
		return Long, agreeing
	case patterns.Bearish:
		return Short, agreeing
	default:
		return None, 0
	}
}

func trendMatches(t structure.Trend, bias EntryBias) bool {
	return (t == structure.TrendBullish && bias == Long) ||
		(t == structure.TrendBearish && bias == Short)
}

func opposite(bias EntryBias) EntryBias {
	switch bias {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return None
	}
}

func quality(total float64) Quality {
	switch {
	case total >= 0.85:
		return QualityExceptional
	case total >= 0.75:
		return QualityExcellent
	case total >= 0.65:
		return QualityStrong
	default:
		return QualityLow
	}
}

func findContext(contexts []TimeframeContext, tf market.Timeframe) *TimeframeContext {
	for i := range contexts {
		if contexts[i].Timeframe == tf {
			return &contexts[i]
		}
	}
	return nil
}

func patternIn(list []patterns.PatternType, p patterns.PatternType) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

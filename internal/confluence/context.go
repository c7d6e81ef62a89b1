package confluence

import (
	"hyperliquid-trading-bot/internal/cycle"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/patterns"
	"hyperliquid-trading-bot/internal/structure"
	"hyperliquid-trading-bot/internal/zones"
)

// recentPatternWindow bounds how many trailing candles contribute patterns
// to a context.
const recentPatternWindow = 5

// recentBreakWindow bounds how old a structure break may be to still count
// as the context's recent BOS.
const recentBreakWindow = 10

// ContextBuilder runs the per-timeframe analysis stack and assembles scorer
// inputs. The cycle classifier is stateful (it keeps a history), so one
// builder serves one (symbol, timeframe) stream.
type ContextBuilder struct {
	patterns  *patterns.Detector
	structure *structure.Analyzer
	zones     *zones.Detector
	cycles    *cycle.Classifier
}

// NewContextBuilder creates a builder over the given detector configurations
func NewContextBuilder(structureCfg structure.Config, zoneCfg zones.Config, cycleCfg cycle.Config) *ContextBuilder {
	return &ContextBuilder{
		patterns:  patterns.NewDetector(),
		structure: structure.NewAnalyzer(structureCfg),
		zones:     zones.NewDetector(zoneCfg),
		cycles:    cycle.NewClassifier(cycleCfg),
	}
}

// BuiltContext bundles the scorer input with the full analysis behind it
type BuiltContext struct {
	Context        TimeframeContext
	Analysis       *structure.Analysis
	Zones          []zones.Zone
	Classification cycle.Classification
}

// Build analyzes a sorted candle window and assembles the timeframe context.
// Candles must be ascending by timestamp.
func (b *ContextBuilder) Build(tf market.Timeframe, candles []market.Candle) *BuiltContext {
	analysis := b.structure.Analyze(candles)
	zoneSet := b.zones.Detect(candles, analysis.Swings)
	cls := b.cycles.Classify(candles)

	ctx := TimeframeContext{
		Timeframe:       tf,
		Candles:         candles,
		Patterns:        recentPatterns(b.patterns, candles),
		TrendDirection:  analysis.CurrentTrend,
		TrendStrength:   trendStrength(analysis),
		MarketCycle:     cls.Cycle,
		CycleConfidence: cls.Confidence,
		RecentBOS:       analysis.RecentBreak(len(candles), recentBreakWindow),
	}

	if len(candles) > 0 {
		price := candles[len(candles)-1].Close
		for _, z := range zoneSet {
			if z.Broken || price < z.Bottom || price > z.Top {
				continue
			}
			switch z.Type {
			case zones.Support:
				ctx.InSupportZone = true
			case zones.Resistance:
				ctx.InResistanceZone = true
			}
			if z.StrengthScore > ctx.ZoneStrength {
				ctx.ZoneStrength = z.StrengthScore
			}
		}
	}

	return &BuiltContext{
		Context:        ctx,
		Analysis:       analysis,
		Zones:          zoneSet,
		Classification: cls,
	}
}

func recentPatterns(d *patterns.Detector, candles []market.Candle) []patterns.DetectedPattern {
	var out []patterns.DetectedPattern
	start := len(candles) - recentPatternWindow
	if start < 0 {
		start = 0
	}
	for i := start; i < len(candles); i++ {
		out = append(out, d.DetectAt(candles, i)...)
	}
	return out
}

// trendStrength blends the BOS share of all breaks with the significance of
// the latest break. A neutral trend scores zero.
func trendStrength(a *structure.Analysis) float64 {
	if len(a.Breaks) == 0 || a.CurrentTrend == structure.TrendNeutral {
		return 0
	}
	ratio := float64(a.BOSCount) / float64(a.BOSCount+a.CHoCHCount)
	last := a.Breaks[len(a.Breaks)-1]
	s := 0.5*ratio + 0.5*last.Significance
	if s > 1 {
		s = 1
	}
	return s
}

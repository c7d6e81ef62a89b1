package confluence

import (
	"testing"
	"time"

	"hyperliquid-trading-bot/internal/cycle"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/structure"
	"hyperliquid-trading-bot/internal/zones"
)

// trendSeries builds solid-bodied candles from close prices with asymmetric
// wicks so no two candles share an exact extremum.
func trendSeries(closes ...float64) []market.Candle {
	candles := make([]market.Candle, len(closes))
	prev := closes[0]
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		o := prev
		var h, l float64
		if c >= o {
			h, l = c+0.2, o-0.1
		} else {
			h, l = o+0.1, c-0.2
		}
		candles[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      o, High: h, Low: l, Close: c, Volume: 1000,
			Symbol: "BTC", Timeframe: market.TF1h,
		}
		prev = c
	}
	return candles
}

func testBuilder() *ContextBuilder {
	return NewContextBuilder(
		structure.Config{Lookback: 2, MinSwingBodyPct: 0.3, MinMoveSize: 0.01, MinGapSize: 0.002, MinVolumePercentile: 0.5},
		zones.DefaultConfig(),
		cycle.DefaultConfig(),
	)
}

func TestBuildUptrendContext(t *testing.T) {
	// Rise, pull back, then break the prior peak: a bullish BOS
	candles := trendSeries(100, 102, 104, 106, 104, 102, 104, 106, 108, 110, 112, 114)

	built := testBuilder().Build(market.TF1h, candles)
	ctx := built.Context

	if ctx.Timeframe != market.TF1h {
		t.Errorf("Timeframe not carried: %s", ctx.Timeframe)
	}
	if ctx.TrendDirection != structure.TrendBullish {
		t.Errorf("Expected bullish trend, got %s", ctx.TrendDirection)
	}
	if ctx.TrendStrength <= 0 || ctx.TrendStrength > 1 {
		t.Errorf("Trend strength out of range: %f", ctx.TrendStrength)
	}
	if ctx.RecentBOS == nil {
		t.Fatal("Expected a recent structure break")
	}
	if ctx.CycleConfidence < 0 || ctx.CycleConfidence > 1 {
		t.Errorf("Cycle confidence out of range: %f", ctx.CycleConfidence)
	}
	for _, p := range ctx.Patterns {
		if p.CandleIndex < len(candles)-recentPatternWindow {
			t.Errorf("Pattern outside the recent window: %+v", p)
		}
	}
	if !ctx.InSupportZone && !ctx.InResistanceZone && ctx.ZoneStrength != 0 {
		t.Errorf("Zone strength without zone membership: %f", ctx.ZoneStrength)
	}
	if built.Analysis == nil || built.Classification.Cycle == "" {
		t.Error("Build must expose the underlying analysis")
	}
}

func TestBuildEmptyWindow(t *testing.T) {
	built := testBuilder().Build(market.TF1h, nil)
	ctx := built.Context

	if ctx.TrendDirection != structure.TrendNeutral {
		t.Errorf("Empty window must be neutral, got %s", ctx.TrendDirection)
	}
	if ctx.TrendStrength != 0 || ctx.ZoneStrength != 0 || ctx.RecentBOS != nil {
		t.Errorf("Empty window produced analysis: %+v", ctx)
	}
}

func TestTrendStrengthBounds(t *testing.T) {
	neutral := &structure.Analysis{CurrentTrend: structure.TrendNeutral}
	if got := trendStrength(neutral); got != 0 {
		t.Errorf("Neutral trend must score 0, got %f", got)
	}

	a := &structure.Analysis{
		CurrentTrend: structure.TrendBullish,
		BOSCount:     3,
		CHoCHCount:   1,
		Breaks: []structure.StructureBreak{
			{Kind: structure.BOS, Significance: 0.8},
		},
	}
	// 0.5*(3/4) + 0.5*0.8 = 0.775
	if got := trendStrength(a); got < 0.774 || got > 0.776 {
		t.Errorf("Expected 0.775, got %f", got)
	}
}

package structure

import (
	"hyperliquid-trading-bot/internal/market"
)

// Trend is the tracked structural trend
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// BreakKind distinguishes continuation breaks from trend flips
type BreakKind string

const (
	BOS   BreakKind = "bos"   // break of structure: continuation
	CHoCH BreakKind = "choch" // change of character: trend flip
)

// StructureBreak records a close through a prior swing price
type StructureBreak struct {
	Candle       market.Candle `json:"candle"`
	CandleIndex  int           `json:"candle_index"`
	Kind         BreakKind     `json:"kind"`
	BrokenSwing  SwingPoint    `json:"broken_swing"`
	BreakPrice   float64       `json:"break_price"`
	Significance float64       `json:"significance"` // 0.0 to 1.0
	Trend        Trend         `json:"trend"`        // trend after the break
}

// DetectBreaks walks candles after each swing and emits BOS/CHoCH events,
// tracking the trend as it flips. A break requires the close to cross the
// swing price strictly.
func DetectBreaks(candles []market.Candle, swings []SwingPoint) ([]StructureBreak, Trend) {
	if len(swings) == 0 {
		return nil, TrendNeutral
	}

	trend := initialTrend(swings)
	var breaks []StructureBreak

	// Unbroken swings pending a break, in chronological order
	pending := make([]SwingPoint, 0, len(swings))
	nextSwing := 0

	for i := 0; i < len(candles); i++ {
		// Swings become actionable once price has moved past their window
		for nextSwing < len(swings) && swings[nextSwing].Index+1 <= i {
			pending = append(pending, swings[nextSwing])
			nextSwing++
		}

		c := candles[i]
		remaining := pending[:0]
		for _, s := range pending {
			broke := false
			var kind BreakKind
			var after Trend

			if s.Type == SwingHigh && c.Close > s.Price {
				broke = true
				if trend == TrendBullish {
					kind = BOS
					after = TrendBullish
				} else {
					kind = CHoCH
					after = TrendBullish
				}
			} else if s.Type == SwingLow && c.Close < s.Price {
				broke = true
				if trend == TrendBearish {
					kind = BOS
					after = TrendBearish
				} else {
					kind = CHoCH
					after = TrendBearish
				}
			}

			if !broke {
				remaining = append(remaining, s)
				continue
			}

			breaks = append(breaks, StructureBreak{
				Candle:       c,
				CandleIndex:  i,
				Kind:         kind,
				BrokenSwing:  s,
				BreakPrice:   s.Price,
				Significance: breakSignificance(c.Close, s.Price),
				Trend:        after,
			})
			trend = after
		}
		pending = remaining
	}

	return breaks, trend
}

// initialTrend seeds the tracker from the first few swings: bullish when the
// earliest high sits below the last observed high
func initialTrend(swings []SwingPoint) Trend {
	var firstHigh, lastHigh *SwingPoint
	var firstLow, lastLow *SwingPoint
	for i := range swings {
		s := &swings[i]
		switch s.Type {
		case SwingHigh:
			if firstHigh == nil {
				firstHigh = s
			}
			lastHigh = s
		case SwingLow:
			if firstLow == nil {
				firstLow = s
			}
			lastLow = s
		}
	}

	if firstHigh != nil && lastHigh != nil && firstHigh != lastHigh {
		if firstHigh.Price < lastHigh.Price {
			return TrendBullish
		}
		return TrendBearish
	}
	if firstLow != nil && lastLow != nil && firstLow != lastLow {
		if firstLow.Price < lastLow.Price {
			return TrendBullish
		}
		return TrendBearish
	}
	return TrendNeutral
}

// breakSignificance normalizes the close's penetration beyond the swing,
// capped at 2%
func breakSignificance(closePrice, swingPrice float64) float64 {
	if swingPrice <= 0 {
		return 0
	}
	pct := closePrice - swingPrice
	if pct < 0 {
		pct = -pct
	}
	pct /= swingPrice
	if pct > 0.02 {
		pct = 0.02
	}
	return pct / 0.02
}

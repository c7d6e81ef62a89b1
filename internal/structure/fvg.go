package structure

import (
	"hyperliquid-trading-bot/internal/market"
)

// FVGType represents the direction of a Fair Value Gap
type FVGType string

const (
	BullishFVG FVGType = "bullish"
	BearishFVG FVGType = "bearish"
)

// FairValueGap is a three-candle gap left by the middle candle's move
type FairValueGap struct {
	Type        FVGType `json:"type"`
	Top         float64 `json:"top"`
	Bottom      float64 `json:"bottom"`
	CandleIndex int     `json:"candle_index"` // index of the middle candle
	FillPercent float64 `json:"fill_percent"` // 0.0 to 1.0
	Filled      bool    `json:"filled"`
}

// DetectFVGs scans candle triplets (p, m, n). Bullish: n.Low > p.High with the
// gap at least minGapSize of m.Close; bearish symmetric. Fill state is updated
// against subsequent candles in the same slice.
func DetectFVGs(candles []market.Candle, minGapSize float64) []FairValueGap {
	if minGapSize <= 0 {
		minGapSize = 0.002
	}
	if len(candles) < 3 {
		return nil
	}

	var fvgs []FairValueGap
	for i := 0; i < len(candles)-2; i++ {
		p, m, n := candles[i], candles[i+1], candles[i+2]
		if m.Close <= 0 {
			continue
		}

		if n.Low > p.High {
			gap := (n.Low - p.High) / m.Close
			if gap >= minGapSize {
				fvg := FairValueGap{
					Type:        BullishFVG,
					Top:         n.Low,
					Bottom:      p.High,
					CandleIndex: i + 1,
				}
				updateFill(&fvg, candles[i+3:])
				fvgs = append(fvgs, fvg)
			}
		}

		if p.Low > n.High {
			gap := (p.Low - n.High) / m.Close
			if gap >= minGapSize {
				fvg := FairValueGap{
					Type:        BearishFVG,
					Top:         p.Low,
					Bottom:      n.High,
					CandleIndex: i + 1,
				}
				updateFill(&fvg, candles[i+3:])
				fvgs = append(fvgs, fvg)
			}
		}
	}
	return fvgs
}

// updateFill tracks how far price has retraced into the gap. A bullish gap
// fills downward from its top; a bearish gap fills upward from its bottom.
func updateFill(fvg *FairValueGap, later []market.Candle) {
	size := fvg.Top - fvg.Bottom
	if size <= 0 {
		return
	}

	deepest := 0.0
	for _, c := range later {
		var depth float64
		if fvg.Type == BullishFVG {
			if c.Low < fvg.Top {
				depth = fvg.Top - c.Low
			}
		} else {
			if c.High > fvg.Bottom {
				depth = c.High - fvg.Bottom
			}
		}
		if depth > deepest {
			deepest = depth
		}
	}

	if deepest > size {
		deepest = size
	}
	fvg.FillPercent = deepest / size
	fvg.Filled = fvg.FillPercent >= 1.0
}

// PriceInFVG reports whether price sits inside the gap band
func PriceInFVG(price float64, fvg FairValueGap) bool {
	return price >= fvg.Bottom && price <= fvg.Top
}

// UnfilledFVGs filters out fully filled gaps
func UnfilledFVGs(fvgs []FairValueGap) []FairValueGap {
	var out []FairValueGap
	for _, f := range fvgs {
		if !f.Filled {
			out = append(out, f)
		}
	}
	return out
}

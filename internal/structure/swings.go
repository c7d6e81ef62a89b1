package structure

import (
	"hyperliquid-trading-bot/internal/market"
)

// SwingType marks a swing point as a high or a low
type SwingType string

const (
	SwingHigh SwingType = "high"
	SwingLow  SwingType = "low"
)

// SwingPoint is a confirmed local extremum
type SwingPoint struct {
	Candle   market.Candle `json:"candle"`
	Index    int           `json:"index"`
	Type     SwingType     `json:"type"`
	Price    float64       `json:"price"`
	Strength float64       `json:"strength"` // 0.0 to 1.0
}

// DetectSwings scans for strict local extrema over a 2L+1 window, filtered by
// the body-size constraint (dojis pass regardless).
func DetectSwings(candles []market.Candle, lookback int, minBodyPct float64) []SwingPoint {
	if lookback <= 0 {
		lookback = 5
	}
	if len(candles) < 2*lookback+1 {
		return nil
	}

	var swings []SwingPoint
	for i := lookback; i < len(candles)-lookback; i++ {
		c := candles[i]

		if !passesBodyFilter(c, minBodyPct) {
			continue
		}

		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= c.High {
				isHigh = false
			}
			if candles[j].Low <= c.Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			swings = append(swings, SwingPoint{
				Candle:   c,
				Index:    i,
				Type:     SwingHigh,
				Price:    c.High,
				Strength: swingStrength(candles, i, lookback, SwingHigh),
			})
		}
		if isLow {
			swings = append(swings, SwingPoint{
				Candle:   c,
				Index:    i,
				Type:     SwingLow,
				Price:    c.Low,
				Strength: swingStrength(candles, i, lookback, SwingLow),
			})
		}
	}
	return swings
}

// passesBodyFilter drops noise candles: the body must be a meaningful share of
// the range unless the candle is a doji
func passesBodyFilter(c market.Candle, minBodyPct float64) bool {
	rng := c.Range()
	if rng <= 0 {
		return false
	}
	bodyRatio := c.Body() / rng
	isDoji := bodyRatio < 0.10
	return bodyRatio >= minBodyPct || isDoji
}

// swingStrength scales with how far the extremum stands above/below the
// neighborhood mean, capped at a 2% excursion
func swingStrength(candles []market.Candle, i, lookback int, t SwingType) float64 {
	var sum float64
	var n int
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i {
			continue
		}
		if t == SwingHigh {
			sum += candles[j].High
		} else {
			sum += candles[j].Low
		}
		n++
	}
	if n == 0 {
		return 0.5
	}
	mean := sum / float64(n)
	if mean <= 0 {
		return 0.5
	}

	var excursion float64
	if t == SwingHigh {
		excursion = (candles[i].High - mean) / mean
	} else {
		excursion = (mean - candles[i].Low) / mean
	}
	if excursion < 0 {
		excursion = 0
	}
	s := excursion / 0.02
	if s > 1 {
		s = 1
	}
	return s
}

package structure

import (
	"sort"

	"hyperliquid-trading-bot/internal/market"
)

// OrderBlock is the last opposite-color candle before a strong directional
// move, treated as latent supply or demand
type OrderBlock struct {
	Candle      market.Candle `json:"candle"`
	CandleIndex int           `json:"candle_index"`
	IsBullish   bool          `json:"is_bullish"`
	Top         float64       `json:"top"`
	Bottom      float64       `json:"bottom"`
	Volume      float64       `json:"volume"`
	Strength    float64       `json:"strength"` // 0.0 to 1.0
	TestedCount int           `json:"tested_count"`
}

// DetectOrderBlocks finds bullish and bearish order blocks. A bullish block is
// a bearish candle whose next five candles are mostly bullish and whose
// subsequent high clears close*(1+minMove), with volume at or above the given
// percentile of the window.
func DetectOrderBlocks(candles []market.Candle, minMove, volumePercentile float64) []OrderBlock {
	const window = 5
	if minMove <= 0 {
		minMove = 0.01
	}
	if len(candles) < window+1 {
		return nil
	}

	volThreshold := percentile(volumes(candles), volumePercentile)

	var blocks []OrderBlock
	for i := 0; i < len(candles)-window; i++ {
		c := candles[i]
		if c.Volume < volThreshold {
			continue
		}

		next := candles[i+1 : i+1+window]

		if c.IsBearish() {
			if block, ok := buildBlock(candles, i, next, true, minMove); ok {
				blocks = append(blocks, block)
			}
		}
		if c.IsBullish() {
			if block, ok := buildBlock(candles, i, next, false, minMove); ok {
				blocks = append(blocks, block)
			}
		}
	}
	return blocks
}

func buildBlock(candles []market.Candle, i int, next []market.Candle, bullish bool, minMove float64) (OrderBlock, bool) {
	c := candles[i]

	aligned := 0
	extreme := c.Close
	for _, n := range next {
		if bullish {
			if n.IsBullish() {
				aligned++
			}
			if n.High > extreme {
				extreme = n.High
			}
		} else {
			if n.IsBearish() {
				aligned++
			}
			if extreme == c.Close || n.Low < extreme {
				extreme = n.Low
			}
		}
	}
	if aligned < 4 {
		return OrderBlock{}, false
	}

	var movePct float64
	if bullish {
		movePct = (extreme - c.Close) / c.Close
	} else {
		movePct = (c.Close - extreme) / c.Close
	}
	if movePct < minMove {
		return OrderBlock{}, false
	}

	block := OrderBlock{
		Candle:      c,
		CandleIndex: i,
		IsBullish:   bullish,
		Top:         c.High,
		Bottom:      c.Low,
		Volume:      c.Volume,
		Strength:    clampRatio(movePct / 0.05),
	}

	// Count subsequent closes back inside the block band
	for j := i + 1; j < len(candles); j++ {
		if candles[j].Close >= block.Bottom && candles[j].Close <= block.Top {
			block.TestedCount++
		}
	}
	return block, true
}

func volumes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// percentile returns the p-th percentile (p in [0,1]) of values
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

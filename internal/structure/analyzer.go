package structure

import (
	"hyperliquid-trading-bot/internal/market"
)

// Config holds structure analyzer parameters
type Config struct {
	Lookback            int     // swing lookback L
	MinSwingBodyPct     float64 // body filter for swings
	MinMoveSize         float64 // order block move threshold
	MinGapSize          float64 // FVG gap threshold
	MinVolumePercentile float64 // order block volume percentile
}

// DefaultConfig returns the analyzer defaults
func DefaultConfig() Config {
	return Config{
		Lookback:            5,
		MinSwingBodyPct:     0.3,
		MinMoveSize:         0.01,
		MinGapSize:          0.002,
		MinVolumePercentile: 0.5,
	}
}

// Analysis is the rolled-up structure picture for one timeframe
type Analysis struct {
	Swings       []SwingPoint     `json:"swings"`
	Breaks       []StructureBreak `json:"breaks"`
	OrderBlocks  []OrderBlock     `json:"order_blocks"`
	FVGs         []FairValueGap   `json:"fvgs"`
	CurrentTrend Trend            `json:"current_trend"`
	BOSCount     int              `json:"bos_count"`
	CHoCHCount   int              `json:"choch_count"`
}

// Analyzer runs the full structure pipeline over a sorted candle slice
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates a structure analyzer
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.Lookback <= 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{cfg: cfg}
}

// Analyze detects swings, structure breaks, order blocks and FVGs
func (a *Analyzer) Analyze(candles []market.Candle) *Analysis {
	swings := DetectSwings(candles, a.cfg.Lookback, a.cfg.MinSwingBodyPct)
	breaks, trend := DetectBreaks(candles, swings)

	analysis := &Analysis{
		Swings:       swings,
		Breaks:       breaks,
		OrderBlocks:  DetectOrderBlocks(candles, a.cfg.MinMoveSize, a.cfg.MinVolumePercentile),
		FVGs:         DetectFVGs(candles, a.cfg.MinGapSize),
		CurrentTrend: trend,
	}
	for _, b := range breaks {
		if b.Kind == BOS {
			analysis.BOSCount++
		} else {
			analysis.CHoCHCount++
		}
	}
	return analysis
}

// RecentBreak returns the last structure break within maxAge candles of the
// end of the series, or nil
func (an *Analysis) RecentBreak(total, maxAge int) *StructureBreak {
	if len(an.Breaks) == 0 {
		return nil
	}
	last := an.Breaks[len(an.Breaks)-1]
	if total-last.CandleIndex <= maxAge {
		return &last
	}
	return nil
}

// LastSwing returns the most recent swing of the given type, or nil
func (an *Analysis) LastSwing(t SwingType) *SwingPoint {
	for i := len(an.Swings) - 1; i >= 0; i-- {
		if an.Swings[i].Type == t {
			return &an.Swings[i]
		}
	}
	return nil
}

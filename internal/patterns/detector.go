package patterns

import (
	"fmt"

	"hyperliquid-trading-bot/internal/market"
)

// PatternType identifies a candle pattern
type PatternType string

const (
	LECandle       PatternType = "le_candle"
	SmallWick      PatternType = "small_wick"
	SteeperWick    PatternType = "steeper_wick"
	Celery         PatternType = "celery"
	Doji           PatternType = "doji"
	Hammer         PatternType = "hammer"
	ShootingStar   PatternType = "shooting_star"
	InvertedHammer PatternType = "inverted_hammer"
	PinBarBullish  PatternType = "pin_bar_bullish"
	PinBarBearish  PatternType = "pin_bar_bearish"
	StrongBullish  PatternType = "strong_bullish"
	StrongBearish  PatternType = "strong_bearish"

	BullishEngulfing PatternType = "bullish_engulfing"
	BearishEngulfing PatternType = "bearish_engulfing"
	InsideBar        PatternType = "inside_bar"
	OutsideBar       PatternType = "outside_bar"
)

// Bias is the directional signal of a pattern
type Bias string

const (
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
	Neutral Bias = "neutral"
)

// DetectedPattern is one pattern occurrence
type DetectedPattern struct {
	Type        PatternType        `json:"type"`
	Signal      Bias               `json:"signal"`
	Strength    float64            `json:"strength"` // 0.0 to 1.0
	CandleIndex int                `json:"candle_index"`
	Description string             `json:"description"`
	Metadata    map[string]float64 `json:"metadata,omitempty"`
}

// ratios holds the normalized anatomy of a single candle
type ratios struct {
	body      float64 // body / range
	upperWick float64 // upper wick / range
	lowerWick float64 // lower wick / range
	bullish   bool
}

func candleRatios(c market.Candle) (ratios, bool) {
	rng := c.Range()
	if rng <= 0 {
		return ratios{}, false
	}
	return ratios{
		body:      c.Body() / rng,
		upperWick: c.UpperWick() / rng,
		lowerWick: c.LowerWick() / rng,
		bullish:   c.Close > c.Open,
	}, true
}

// Detector scans candles for single- and multi-candle patterns
type Detector struct{}

// NewDetector creates a pattern detector
func NewDetector() *Detector {
	return &Detector{}
}

// Detect runs the full scan over the candle slice. Single-candle patterns are
// reported at their own index, two-candle patterns at the ending index.
func (d *Detector) Detect(candles []market.Candle) []DetectedPattern {
	var out []DetectedPattern
	for i := range candles {
		out = append(out, d.DetectAt(candles, i)...)
	}
	return out
}

// DetectAt returns the patterns ending at index i. Pin bars are checked
// before hammer and shooting star so the stricter classification lists first.
func (d *Detector) DetectAt(candles []market.Candle, i int) []DetectedPattern {
	if i < 0 || i >= len(candles) {
		return nil
	}

	var out []DetectedPattern
	c := candles[i]
	r, ok := candleRatios(c)
	if ok {
		out = append(out, d.singleCandle(r, i)...)
	}
	if i > 0 {
		out = append(out, d.twoCandle(candles[i-1], c, i)...)
	}
	return out
}

func (d *Detector) singleCandle(r ratios, i int) []DetectedPattern {
	var out []DetectedPattern

	add := func(t PatternType, bias Bias, strength float64, desc string) {
		out = append(out, DetectedPattern{
			Type:        t,
			Signal:      bias,
			Strength:    clamp01(strength),
			CandleIndex: i,
			Description: desc,
			Metadata: map[string]float64{
				"body_ratio":       r.body,
				"upper_wick_ratio": r.upperWick,
				"lower_wick_ratio": r.lowerWick,
			},
		})
	}

	bodyBias := Neutral
	if r.bullish {
		bodyBias = Bullish
	} else if r.body > 0 {
		bodyBias = Bearish
	}

	// LE candle: dominant body, both wicks tiny
	if r.body >= 0.80 && r.upperWick <= 0.10 && r.lowerWick <= 0.10 {
		add(LECandle, bodyBias, r.body, "Low-effort candle: body dominates the full range")
	}

	// Small wick: one wick near zero with a solid body
	if r.body >= 0.70 && (r.upperWick <= 0.02 || r.lowerWick <= 0.02) {
		add(SmallWick, bodyBias, r.body, "One wick nearly absent with strong body")
	}

	// Steeper wick: one long wick with the opposite wick small; signal
	// opposite the long wick side
	if r.upperWick >= 0.60 && r.lowerWick <= 0.15 {
		add(SteeperWick, Bearish, r.upperWick, "Long upper wick rejection")
	} else if r.lowerWick >= 0.60 && r.upperWick <= 0.15 {
		add(SteeperWick, Bullish, r.lowerWick, "Long lower wick rejection")
	}

	// Celery: small body with long wicks both sides
	if r.body < 0.20 && r.upperWick >= 0.30 && r.lowerWick >= 0.30 {
		add(Celery, Neutral, 1-r.body, "Indecision candle with long wicks both sides")
	}

	// Doji
	if r.body < 0.10 {
		add(Doji, Neutral, 1-r.body*10, "Doji: open and close nearly equal")
	}

	// Pin bars before hammer/shooting star
	isPinBull := r.lowerWick >= 0.65 && r.body <= 0.40
	isPinBear := r.upperWick >= 0.65 && r.body <= 0.40
	if isPinBull {
		add(PinBarBullish, Bullish, r.lowerWick, "Bullish pin bar: strong lower-wick rejection")
	}
	if isPinBear {
		add(PinBarBearish, Bearish, r.upperWick, "Bearish pin bar: strong upper-wick rejection")
	}

	// Hammer
	if r.lowerWick >= 0.55 && r.body <= 0.40 {
		add(Hammer, Bullish, r.lowerWick, "Hammer: long lower wick")
	}

	// Shooting star
	if r.upperWick >= 0.60 && r.body <= 0.40 {
		add(ShootingStar, Bearish, r.upperWick, "Shooting star: long upper wick")
	}

	// Inverted hammer: contextual bullish
	if r.upperWick >= 0.50 && r.upperWick < 0.60 && r.body <= 0.40 && r.lowerWick <= 0.15 {
		add(InvertedHammer, Bullish, r.upperWick, "Inverted hammer: upper-wick probe")
	}

	// Strong directional candles
	if r.body > 0.70 {
		if r.bullish {
			add(StrongBullish, Bullish, r.body, "Strong bullish candle")
		} else {
			add(StrongBearish, Bearish, r.body, "Strong bearish candle")
		}
	}

	return out
}

func (d *Detector) twoCandle(prev, cur market.Candle, i int) []DetectedPattern {
	var out []DetectedPattern

	curBodyTop := maxf(cur.Open, cur.Close)
	curBodyBot := minf(cur.Open, cur.Close)
	prevBodyTop := maxf(prev.Open, prev.Close)
	prevBodyBot := minf(prev.Open, prev.Close)

	// Engulfing: current body strictly encloses previous body, directions opposed
	if prev.IsBearish() && cur.IsBullish() && curBodyBot < prevBodyBot && curBodyTop > prevBodyTop {
		out = append(out, DetectedPattern{
			Type:        BullishEngulfing,
			Signal:      Bullish,
			Strength:    engulfStrength(prev, cur),
			CandleIndex: i,
			Description: fmt.Sprintf("Bullish engulfing: body [%.4f, %.4f] encloses [%.4f, %.4f]", curBodyBot, curBodyTop, prevBodyBot, prevBodyTop),
		})
	}
	if prev.IsBullish() && cur.IsBearish() && curBodyBot < prevBodyBot && curBodyTop > prevBodyTop {
		out = append(out, DetectedPattern{
			Type:        BearishEngulfing,
			Signal:      Bearish,
			Strength:    engulfStrength(prev, cur),
			CandleIndex: i,
			Description: fmt.Sprintf("Bearish engulfing: body [%.4f, %.4f] encloses [%.4f, %.4f]", curBodyBot, curBodyTop, prevBodyBot, prevBodyTop),
		})
	}

	// Inside bar: full range contained in previous range
	if cur.High <= prev.High && cur.Low >= prev.Low {
		out = append(out, DetectedPattern{
			Type:        InsideBar,
			Signal:      Neutral,
			Strength:    0.5,
			CandleIndex: i,
			Description: "Inside bar: range contained within previous candle",
		})
	}

	// Outside bar: range exceeds previous on both sides, signal by body direction
	if cur.High > prev.High && cur.Low < prev.Low {
		bias := Neutral
		if cur.IsBullish() {
			bias = Bullish
		} else if cur.IsBearish() {
			bias = Bearish
		}
		out = append(out, DetectedPattern{
			Type:        OutsideBar,
			Signal:      bias,
			Strength:    0.6,
			CandleIndex: i,
			Description: "Outside bar: range exceeds previous candle both sides",
		})
	}

	return out
}

// engulfStrength scales with how much larger the engulfing body is
func engulfStrength(prev, cur market.Candle) float64 {
	pb := prev.Body()
	if pb <= 0 {
		return 0.7
	}
	return clamp01(0.6 + 0.2*(cur.Body()/pb-1))
}

// DominantBias returns the bias shared by the strongest patterns, and the
// count of patterns agreeing with it. Neutral patterns do not vote.
func DominantBias(detected []DetectedPattern) (Bias, int) {
	var bull, bear int
	for _, p := range detected {
		switch p.Signal {
		case Bullish:
			bull++
		case Bearish:
			bear++
		}
	}
	if bull > bear {
		return Bullish, bull
	}
	if bear > bull {
		return Bearish, bear
	}
	return Neutral, 0
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

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

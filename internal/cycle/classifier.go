package cycle

import (
	"math"
	"sync"
	"time"

	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/patterns"
	"hyperliquid-trading-bot/internal/structure"
)

// MarketCycle is the current market regime
type MarketCycle string

const (
	Drive     MarketCycle = "drive"     // directional expansion
	Range     MarketCycle = "range"     // mean-reverting chop
	Liquidity MarketCycle = "liquidity" // sweep-heavy two-sided hunting
)

// DrivePhase refines a Drive classification
type DrivePhase string

const (
	PhaseNone         DrivePhase = ""
	PhaseAccelerating DrivePhase = "accelerating"
	PhaseSteady       DrivePhase = "steady"
	PhaseExhausting   DrivePhase = "exhausting"
)

// CycleMetrics are the raw measurements behind a classification
type CycleMetrics struct {
	MomentumScore        float64 `json:"momentum_score"`        // [-1, 1]
	DirectionalStrength  float64 `json:"directional_strength"`  // [0, 1]
	NormalizedVolatility float64 `json:"normalized_volatility"` // [0, 1]
	WickDominance        float64 `json:"wick_dominance"`        // [0, 1]
	PriceOscillations    int     `json:"price_oscillations"`
	SweepCount           int     `json:"sweep_count"`
}

// Classification is the result of classifying one window
type Classification struct {
	Cycle      MarketCycle  `json:"cycle"`
	Phase      DrivePhase   `json:"phase,omitempty"`
	Confidence float64      `json:"confidence"` // [0, 1]
	Metrics    CycleMetrics `json:"metrics"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Config holds classifier parameters
type Config struct {
	Window         int     // trailing candles per classification
	DriveThreshold float64 // |momentum| gate for Drive
	RangeThreshold float64 // volatility ceiling for Range
	RefReturn      float64 // per-candle return treated as full momentum
	RefVolatility  float64 // return stddev treated as full volatility
	HistorySize    int
}

// DefaultConfig returns the classifier defaults
func DefaultConfig() Config {
	return Config{
		Window:         45,
		DriveThreshold: 0.5,
		RangeThreshold: 0.35,
		RefReturn:      0.005,
		RefVolatility:  0.01,
		HistorySize:    50,
	}
}

// Classifier derives the market cycle from a trailing candle window and keeps
// a classification history
type Classifier struct {
	cfg     Config
	mu      sync.RWMutex
	history []Classification
}

// NewClassifier creates a cycle classifier
func NewClassifier(cfg Config) *Classifier {
	if cfg.Window <= 0 {
		cfg.Window = 45
	}
	if cfg.DriveThreshold <= 0 {
		cfg.DriveThreshold = 0.5
	}
	if cfg.RangeThreshold <= 0 {
		cfg.RangeThreshold = 0.35
	}
	if cfg.RefReturn <= 0 {
		cfg.RefReturn = 0.005
	}
	if cfg.RefVolatility <= 0 {
		cfg.RefVolatility = 0.01
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return &Classifier{cfg: cfg}
}

// Classify computes metrics over the trailing window and maps them to a cycle.
// The result is appended to the history.
func (cl *Classifier) Classify(candles []market.Candle) Classification {
	if len(candles) > cl.cfg.Window {
		candles = candles[len(candles)-cl.cfg.Window:]
	}

	m := cl.ComputeMetrics(candles)
	c := cl.classify(m, candles)
	if n := len(candles); n > 0 {
		c.Timestamp = candles[n-1].Timestamp
	}

	cl.mu.Lock()
	cl.history = append(cl.history, c)
	if len(cl.history) > cl.cfg.HistorySize {
		cl.history = cl.history[len(cl.history)-cl.cfg.HistorySize:]
	}
	cl.mu.Unlock()

	return c
}

// ComputeMetrics measures the window without classifying it
func (cl *Classifier) ComputeMetrics(candles []market.Candle) CycleMetrics {
	if len(candles) < 3 {
		return CycleMetrics{}
	}

	var (
		signedSum, absSum float64
		wickSum           float64
		wickN             int
		returns           []float64
		oscillations      int
		prevDiff          float64
		havePrev          bool
	)

	for i, c := range candles {
		if c.Open > 0 {
			r := (c.Close - c.Open) / c.Open
			signedSum += r
			if r < 0 {
				absSum -= r
			} else {
				absSum += r
			}
		}
		if rng := c.Range(); rng > 0 {
			wickSum += (c.UpperWick() + c.LowerWick()) / rng
			wickN++
		}
		if i > 0 && candles[i-1].Close > 0 {
			ret := (c.Close - candles[i-1].Close) / candles[i-1].Close
			returns = append(returns, ret)
			diff := c.Close - candles[i-1].Close
			if havePrev && diff*prevDiff < 0 {
				oscillations++
			}
			if diff != 0 {
				prevDiff = diff
				havePrev = true
			}
		}
	}

	n := float64(len(candles))
	momentum := clamp(signedSum/n/cl.cfg.RefReturn, -1, 1)

	var directional float64
	if absSum > 0 {
		directional = math.Abs(signedSum) / absSum
	}

	vol := clamp(stddev(returns)/cl.cfg.RefVolatility, 0, 1)

	var wickDom float64
	if wickN > 0 {
		wickDom = wickSum / float64(wickN)
	}

	return CycleMetrics{
		MomentumScore:        momentum,
		DirectionalStrength:  directional,
		NormalizedVolatility: vol,
		WickDominance:        wickDom,
		PriceOscillations:    oscillations,
		SweepCount:           countSweeps(candles),
	}
}

func (cl *Classifier) classify(m CycleMetrics, candles []market.Candle) Classification {
	absMom := math.Abs(m.MomentumScore)

	if absMom >= cl.cfg.DriveThreshold && m.DirectionalStrength >= 0.6 {
		conf := clamp(0.5+(absMom-cl.cfg.DriveThreshold)+(m.DirectionalStrength-0.6), 0, 1)
		return Classification{
			Cycle:      Drive,
			Phase:      drivePhase(candles),
			Confidence: conf,
			Metrics:    m,
		}
	}

	if m.NormalizedVolatility < cl.cfg.RangeThreshold && m.PriceOscillations >= 3 && absMom < 0.5 {
		conf := clamp(0.5+(cl.cfg.RangeThreshold-m.NormalizedVolatility)+float64(minInt(m.PriceOscillations, 8))/16, 0, 1)
		return Classification{Cycle: Range, Confidence: conf, Metrics: m}
	}

	if m.WickDominance >= 0.5 && m.SweepCount >= 2 {
		conf := clamp(0.4+0.3*m.WickDominance+float64(minInt(m.SweepCount, 4))/10, 0, 1)
		return Classification{Cycle: Liquidity, Confidence: conf, Metrics: m}
	}

	// Nothing decisive: treat as range with low confidence
	return Classification{Cycle: Range, Confidence: 0.3, Metrics: m}
}

// drivePhase compares momentum in the two halves of the window
func drivePhase(candles []market.Candle) DrivePhase {
	if len(candles) < 6 {
		return PhaseSteady
	}
	half := len(candles) / 2
	first := signedReturn(candles[:half])
	second := signedReturn(candles[half:])

	switch {
	case math.Abs(second) > math.Abs(first)*1.25:
		return PhaseAccelerating
	case math.Abs(second) < math.Abs(first)*0.5:
		return PhaseExhausting
	default:
		return PhaseSteady
	}
}

func signedReturn(candles []market.Candle) float64 {
	var sum float64
	for _, c := range candles {
		if c.Open > 0 {
			sum += (c.Close - c.Open) / c.Open
		}
	}
	return sum
}

// countSweeps counts candles whose wick pierces the most recent prior swing
// price and then close back through it
func countSweeps(candles []market.Candle) int {
	swings := structure.DetectSwings(candles, 2, 0)
	if len(swings) == 0 {
		return 0
	}

	count := 0
	for i, c := range candles {
		var lastHigh, lastLow *structure.SwingPoint
		for j := range swings {
			if swings[j].Index >= i {
				break
			}
			if swings[j].Type == structure.SwingHigh {
				lastHigh = &swings[j]
			} else {
				lastLow = &swings[j]
			}
		}
		if lastHigh != nil && c.High > lastHigh.Price && c.Close < lastHigh.Price {
			count++
			continue
		}
		if lastLow != nil && c.Low < lastLow.Price && c.Close > lastLow.Price {
			count++
		}
	}
	return count
}

// History returns a copy of the stored classifications, oldest first
func (cl *Classifier) History() []Classification {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make([]Classification, len(cl.history))
	copy(out, cl.history)
	return out
}

// CycleDuration returns how many consecutive trailing classifications share
// the current cycle
func (cl *Classifier) CycleDuration() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	n := len(cl.history)
	if n == 0 {
		return 0
	}
	current := cl.history[n-1].Cycle
	run := 0
	for i := n - 1; i >= 0 && cl.history[i].Cycle == current; i-- {
		run++
	}
	return run
}

// TransitionProbability returns the share of cycle flips among stored
// classifications
func (cl *Classifier) TransitionProbability() float64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if len(cl.history) < 2 {
		return 0
	}
	flips := 0
	for i := 1; i < len(cl.history); i++ {
		if cl.history[i].Cycle != cl.history[i-1].Cycle {
			flips++
		}
	}
	return float64(flips) / float64(len(cl.history)-1)
}

// Recommendation tells the signal layer how to treat patterns under a cycle
type Recommendation struct {
	PreferredPatterns    []patterns.PatternType `json:"preferred_patterns"`
	AvoidPatterns        []patterns.PatternType `json:"avoid_patterns"`
	ConfidenceAdjustment float64                `json:"confidence_adjustment"`
	Notes                []string               `json:"notes"`
}

// GetRecommendation maps a classification to pattern preferences
func GetRecommendation(c Classification) Recommendation {
	switch c.Cycle {
	case Drive:
		return Recommendation{
			PreferredPatterns: []patterns.PatternType{
				patterns.LECandle, patterns.StrongBullish, patterns.StrongBearish,
				patterns.BullishEngulfing, patterns.BearishEngulfing,
			},
			AvoidPatterns: []patterns.PatternType{
				patterns.Doji, patterns.Celery,
			},
			ConfidenceAdjustment: 0.05,
			Notes: []string{
				"directional expansion: favor continuation entries",
				"avoid fading the move until momentum stalls",
			},
		}
	case Liquidity:
		return Recommendation{
			PreferredPatterns: []patterns.PatternType{
				patterns.PinBarBullish, patterns.PinBarBearish,
				patterns.Hammer, patterns.ShootingStar,
			},
			AvoidPatterns: []patterns.PatternType{
				patterns.LECandle, patterns.StrongBullish, patterns.StrongBearish,
			},
			ConfidenceAdjustment: -0.10,
			Notes: []string{
				"sweep-heavy conditions: wait for rejection confirmation",
				"breakout entries are prone to stop runs",
			},
		}
	default:
		return Recommendation{
			PreferredPatterns: []patterns.PatternType{
				patterns.PinBarBullish, patterns.PinBarBearish,
				patterns.Hammer, patterns.ShootingStar, patterns.Doji,
			},
			AvoidPatterns: []patterns.PatternType{
				patterns.LECandle, patterns.StrongBullish, patterns.StrongBearish,
			},
			ConfidenceAdjustment: -0.05,
			Notes: []string{
				"mean-reverting conditions: trade the edges of the range",
			},
		}
	}
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

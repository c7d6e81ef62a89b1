package signal

import (
	"context"
	"math"
	"time"

	"github.com/cinar/indicator"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/confluence"
	"hyperliquid-trading-bot/internal/cycle"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/patterns"
	"hyperliquid-trading-bot/internal/structure"
	"hyperliquid-trading-bot/internal/zones"
)

// Config holds signal generation parameters
type Config struct {
	ATRPeriod         int
	ATRMultiplier     float64
	MaxSLPct          float64
	MinRR             float64
	RRLadder          []float64 // reward multiples for tp1..tp3
	SwingLookback     int
	AllowZoneCrossing bool
}

// DefaultConfig returns the generator defaults
func DefaultConfig() Config {
	return Config{
		ATRPeriod:     14,
		ATRMultiplier: 2.0,
		MaxSLPct:      0.05,
		MinRR:         2.0,
		RRLadder:      []float64{1.5, 2.5, 3.5},
		SwingLookback: 5,
	}
}

// Generator turns a signal-grade confluence score into a priced Signal
type Generator struct {
	cfg      Config
	rules    []StrategyRule
	reasoner Reasoner
	logger   zerolog.Logger
}

// NewGenerator creates a signal generator. reasoner may be nil; the rule-based
// text is always available as a fallback.
func NewGenerator(cfg Config, rules []StrategyRule, reasoner Reasoner, logger zerolog.Logger) *Generator {
	if cfg.ATRPeriod <= 0 {
		cfg = DefaultConfig()
	}
	if len(cfg.RRLadder) < 2 {
		cfg.RRLadder = []float64{1.5, 2.5, 3.5}
	}
	return &Generator{
		cfg:      cfg,
		rules:    rules,
		reasoner: reasoner,
		logger:   logger.With().Str("component", "signal_generator").Logger(),
	}
}

// Generate prices entry, stop and targets from the entry-timeframe context
// and the active zone set. Returns ErrNoSignal when the score does not
// qualify, and a validation error when the priced levels are unusable.
func (g *Generator) Generate(ctx context.Context, score *confluence.Score, entry *confluence.TimeframeContext, zoneSet []zones.Zone, symbol string) (*Signal, error) {
	if score == nil || !score.GeneratesSignal {
		return nil, ErrNoSignal
	}
	if entry == nil || len(entry.Candles) < g.cfg.ATRPeriod+1 {
		return nil, ErrNotEnoughData
	}

	side := Long
	if score.EntryBias == confluence.Short {
		side = Short
	}

	candles := entry.Candles
	last := candles[len(candles)-1]
	entryPrice := last.Close

	stop := g.stopPrice(candles, entryPrice, side)
	risk := math.Abs(entryPrice - stop)

	tp1, tp2, tp3 := g.targets(entryPrice, risk, side, zoneSet)

	sig := &Signal{
		ID:             uuid.New(),
		Timestamp:      last.Timestamp,
		Symbol:         symbol,
		Side:           side,
		EntryTimeframe: score.EntryTimeframe,
		Entry:          entryPrice,
		Stop:           stop,
		TP1:            tp1,
		TP2:            tp2,
		TP3:            tp3,
		Confluence:     score,
		Patterns:       patternTypes(entry),
		SetupType:      setupType(entry.MarketCycle),
		MarketPhase:    entry.MarketCycle,
		HTFBias:        score.HTFTrend,
	}

	if err := sig.Validate(g.cfg.MaxSLPct, g.cfg.MinRR); err != nil {
		g.logger.Debug().Err(err).Str("symbol", symbol).Msg("Signal rejected by validation")
		return nil, err
	}

	ruleCtx := g.ruleContext(sig, score)
	if rule := MatchStrategy(g.rules, sig.SetupType, score.EntryTimeframe, score.Factors, ruleCtx); rule != nil {
		id := rule.ID
		sig.MatchedStrategyID = &id
	}

	sig.Reasoning = g.reason(ctx, sig)

	g.logger.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry", entryPrice).
		Float64("stop", stop).
		Float64("rr", sig.RewardRisk()).
		Msg("Signal generated")

	return sig, nil
}

// stopPrice picks the further of the ATR stop and the structure stop, capped
// at the maximum stop-loss distance
func (g *Generator) stopPrice(candles []market.Candle, entry float64, side Side) float64 {
	atrDist := g.atrDistance(candles)
	structDist := g.structureDistance(candles, entry, side)

	dist := atrDist
	if structDist > dist {
		dist = structDist
	}
	if limit := g.cfg.MaxSLPct * entry; dist > limit {
		dist = limit
	}

	if side == Long {
		return entry - dist
	}
	return entry + dist
}

func (g *Generator) atrDistance(candles []market.Candle) float64 {
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closing := make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], closing[i] = c.High, c.Low, c.Close
	}
	_, atr := indicator.Atr(g.cfg.ATRPeriod, high, low, closing)
	if len(atr) == 0 {
		return 0
	}
	return g.cfg.ATRMultiplier * atr[len(atr)-1]
}

// structureDistance measures to the nearest protective swing on the entry side
func (g *Generator) structureDistance(candles []market.Candle, entry float64, side Side) float64 {
	swings := structure.DetectSwings(candles, g.cfg.SwingLookback, 0)

	for i := len(swings) - 1; i >= 0; i-- {
		s := swings[i]
		if side == Long && s.Type == structure.SwingLow && s.Price < entry {
			return entry - s.Price
		}
		if side == Short && s.Type == structure.SwingHigh && s.Price > entry {
			return s.Price - entry
		}
	}
	return 0
}

// targets builds the tp ladder and clips levels at opposing zones unless
// crossing is allowed. tp3 is dropped when clipping collapses it into tp2.
func (g *Generator) targets(entry, risk float64, side Side, zoneSet []zones.Zone) (float64, float64, *float64) {
	ladder := g.cfg.RRLadder
	raw := make([]float64, 0, 3)
	for i := 0; i < len(ladder) && i < 3; i++ {
		if side == Long {
			raw = append(raw, entry+risk*ladder[i])
		} else {
			raw = append(raw, entry-risk*ladder[i])
		}
	}

	if !g.cfg.AllowZoneCrossing {
		for i := range raw {
			raw[i] = clipAtZone(entry, raw[i], side, zoneSet)
		}
	}

	tp1, tp2 := raw[0], raw[1]
	var tp3 *float64
	if len(raw) > 2 {
		ok := (side == Long && raw[2] > tp2) || (side == Short && raw[2] < tp2)
		if ok {
			v := raw[2]
			tp3 = &v
		}
	}
	return tp1, tp2, tp3
}

// clipAtZone pulls a target back to the near edge of the first opposing zone
// between entry and the target
func clipAtZone(entry, target float64, side Side, zoneSet []zones.Zone) float64 {
	for _, z := range zoneSet {
		if z.Broken {
			continue
		}
		if side == Long && z.Type == zones.Resistance {
			if z.Bottom > entry && z.Bottom < target {
				target = z.Bottom
			}
		}
		if side == Short && z.Type == zones.Support {
			if z.Top < entry && z.Top > target {
				target = z.Top
			}
		}
	}
	return target
}

func (g *Generator) ruleContext(sig *Signal, score *confluence.Score) map[string]interface{} {
	return map[string]interface{}{
		"total":        score.Total,
		"pattern":      score.Pattern,
		"structure":    score.Structure,
		"cycle":        score.Cycle,
		"zone":         score.Zone,
		"quality":      string(score.Quality),
		"entry_bias":   string(score.EntryBias),
		"setup_type":   string(sig.SetupType),
		"timeframe":    string(sig.EntryTimeframe),
		"rr":           sig.RewardRisk(),
		"market_phase": string(sig.MarketPhase),
	}
}

func (g *Generator) reason(ctx context.Context, sig *Signal) string {
	fallback := RuleBasedReasoning(sig)
	if g.reasoner == nil {
		return fallback
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	text, err := g.reasoner.Reason(cctx, sig)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Reasoner failed, using rule-based text")
		return fallback
	}
	return text
}

// setupType maps the entry-timeframe cycle to the kind of entry being taken
func setupType(c cycle.MarketCycle) SetupType {
	switch c {
	case cycle.Liquidity:
		return SetupReversal
	case cycle.Range:
		return SetupRangeFade
	default:
		return SetupContinuation
	}
}

func patternTypes(entry *confluence.TimeframeContext) []patterns.PatternType {
	out := make([]patterns.PatternType, 0, len(entry.Patterns))
	for _, p := range entry.Patterns {
		out = append(out, p.Type)
	}
	return out
}

package outcome

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/backtest"
	"hyperliquid-trading-bot/internal/signal"
)

// SetupValidity grades how faithfully a trade followed its setup
type SetupValidity string

const (
	SetupValid    SetupValidity = "valid"
	SetupEdgeCase SetupValidity = "edge_case"
	SetupInvalid  SetupValidity = "invalid"
)

func (v SetupValidity) factor() float64 {
	switch v {
	case SetupValid:
		return 1.0
	case SetupEdgeCase:
		return 0.9
	default:
		return 0.7
	}
}

// OutcomeAnalysis is the post-trade review of one terminal trade
type OutcomeAnalysis struct {
	TradeID           uuid.UUID     `json:"trade_id"`
	SetupValidity     SetupValidity `json:"setup_validity"`
	PerformanceRating int           `json:"performance_rating"`
	WhatWorked        []string      `json:"what_worked,omitempty"`
	WhatDidnt         []string      `json:"what_didnt,omitempty"`
	Lessons           []string      `json:"lessons,omitempty"`
}

// Analyst produces an analysis for a terminal trade. Implementations may call
// an LLM; errors fall back to the rule-based review.
type Analyst interface {
	Analyze(ctx context.Context, trade *backtest.Trade, rule *signal.StrategyRule) (*OutcomeAnalysis, error)
}

// Analyzer reviews terminal trades and feeds the results back into strategy
// confidence.
type Analyzer struct {
	analyst Analyst
	logger  zerolog.Logger
}

// NewAnalyzer creates an outcome analyzer. analyst may be nil, in which case
// only the rule-based review runs.
func NewAnalyzer(analyst Analyst, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		analyst: analyst,
		logger:  logger.With().Str("component", "outcome_analyzer").Logger(),
	}
}

// AnalyzeTrade reviews one terminal trade
func (a *Analyzer) AnalyzeTrade(ctx context.Context, trade *backtest.Trade, rule *signal.StrategyRule) *OutcomeAnalysis {
	if a.analyst != nil {
		analysis, err := a.analyst.Analyze(ctx, trade, rule)
		if err == nil && analysis != nil {
			analysis.TradeID = trade.ID
			return analysis
		}
		if err != nil {
			a.logger.Warn().Err(err).Msg("Analyst failed, falling back to rule-based review")
		}
	}
	return a.ruleBased(trade)
}

// ruleBased grades the trade from its R-multiple and exit path
func (a *Analyzer) ruleBased(trade *backtest.Trade) *OutcomeAnalysis {
	analysis := &OutcomeAnalysis{
		TradeID:           trade.ID,
		SetupValidity:     SetupValid,
		PerformanceRating: ratingFromR(trade.RMultiple),
	}

	switch trade.ExitReason {
	case "end_of_data":
		analysis.SetupValidity = SetupEdgeCase
		analysis.Lessons = append(analysis.Lessons, "trade never resolved before the data ended")
	case "breakeven_stop":
		analysis.WhatWorked = append(analysis.WhatWorked, "breakeven stop protected open profit")
	case "stop_loss":
		analysis.WhatDidnt = append(analysis.WhatDidnt, "price reached the stop before any target")
		// A loss meaningfully beyond -1R means the stop was not honored at
		// its level (gap or slippage)
		if trade.RMultiple < -1.2 {
			analysis.SetupValidity = SetupInvalid
			analysis.Lessons = append(analysis.Lessons, fmt.Sprintf("loss of %.2fR exceeded planned risk", trade.RMultiple))
		}
	}

	if len(trade.PartialExits) > 0 {
		analysis.WhatWorked = append(analysis.WhatWorked,
			fmt.Sprintf("scaled out %d time(s) at targets", len(trade.PartialExits)))
	}
	if trade.RMultiple >= 2 {
		analysis.WhatWorked = append(analysis.WhatWorked, "trade reached its full reward objective")
	}

	return analysis
}

func ratingFromR(r float64) int {
	switch {
	case r >= 2:
		return 5
	case r >= 1:
		return 4
	case r >= 0:
		return 3
	case r >= -0.5:
		return 2
	default:
		return 1
	}
}

// ApplyToStrategy folds one analyzed trade into the strategy's running
// statistics and smoothed confidence.
func (a *Analyzer) ApplyToStrategy(rule *signal.StrategyRule, trade *backtest.Trade, analysis *OutcomeAnalysis) {
	rule.TradeCount++
	n := float64(rule.TradeCount)

	win := 0.0
	if trade.RealizedPnL > 0 {
		win = 1.0
	}
	if rule.WinRate == nil {
		rule.WinRate = new(float64)
	}
	*rule.WinRate += (win - *rule.WinRate) / n

	if rule.AvgRMultiple == nil {
		rule.AvgRMultiple = new(float64)
	}
	*rule.AvgRMultiple += (trade.RMultiple - *rule.AvgRMultiple) / n

	perf := float64(analysis.PerformanceRating) / 5
	newEff := 0.6*(*rule.WinRate)*analysis.SetupValidity.factor() + 0.4*perf
	w := math.Min(n/20, 0.9)
	rule.Confidence = clamp(w*rule.Confidence+(1-w)*newEff, 0.1, 0.95)

	a.logger.Debug().
		Str("strategy", rule.Name).
		Int("trades", rule.TradeCount).
		Float64("win_rate", *rule.WinRate).
		Float64("confidence", rule.Confidence).
		Msg("Strategy statistics updated")
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

package signal

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"hyperliquid-trading-bot/internal/confluence"
	"hyperliquid-trading-bot/internal/cycle"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/patterns"
	"hyperliquid-trading-bot/internal/structure"
)

var (
	ErrNoSignal       = errors.New("confluence does not generate a signal")
	ErrNotEnoughData  = errors.New("not enough candles for signal generation")
	ErrInvalidLevels  = errors.New("signal levels violate ordering")
	ErrStopTooWide    = errors.New("stop distance exceeds the maximum")
	ErrInsufficientRR = errors.New("reward-to-risk below the minimum")
)

// Side is the trade direction
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// SetupType categorizes the entry by the regime it trades
type SetupType string

const (
	SetupContinuation SetupType = "continuation"
	SetupReversal     SetupType = "reversal"
	SetupRangeFade    SetupType = "range_fade"
)

// Signal is a fully specified trade idea
type Signal struct {
	ID                uuid.UUID              `json:"id"`
	Timestamp         time.Time              `json:"timestamp"`
	Symbol            string                 `json:"symbol"`
	Side              Side                   `json:"side"`
	EntryTimeframe    market.Timeframe       `json:"entry_timeframe"`
	Entry             float64                `json:"entry"`
	Stop              float64                `json:"stop"`
	TP1               float64                `json:"tp1"`
	TP2               float64                `json:"tp2"`
	TP3               *float64               `json:"tp3,omitempty"`
	Confluence        *confluence.Score      `json:"confluence"`
	Patterns          []patterns.PatternType `json:"patterns"`
	SetupType         SetupType              `json:"setup_type"`
	MarketPhase       cycle.MarketCycle      `json:"market_phase"`
	HTFBias           structure.Trend        `json:"htf_bias"`
	Reasoning         string                 `json:"reasoning"`
	MatchedStrategyID *uuid.UUID             `json:"matched_strategy_id,omitempty"`
}

// Risk returns the per-unit stop distance
func (s *Signal) Risk() float64 {
	return math.Abs(s.Entry - s.Stop)
}

// FinalTarget returns the furthest take-profit level
func (s *Signal) FinalTarget() float64 {
	if s.TP3 != nil {
		return *s.TP3
	}
	return s.TP2
}

// RewardRisk returns the reward-to-risk ratio against the final target
func (s *Signal) RewardRisk() float64 {
	risk := s.Risk()
	if risk == 0 {
		return 0
	}
	return math.Abs(s.Entry-s.FinalTarget()) / risk
}

// Validate enforces level ordering, the stop-width cap and the minimum
// reward-to-risk
func (s *Signal) Validate(maxSLPct, minRR float64) error {
	if s.Entry <= 0 {
		return ErrInvalidLevels
	}

	switch s.Side {
	case Long:
		if !(s.Stop < s.Entry && s.Entry < s.TP1 && s.TP1 <= s.TP2) {
			return ErrInvalidLevels
		}
		if s.TP3 != nil && *s.TP3 < s.TP2 {
			return ErrInvalidLevels
		}
	case Short:
		if !(s.Stop > s.Entry && s.Entry > s.TP1 && s.TP1 >= s.TP2) {
			return ErrInvalidLevels
		}
		if s.TP3 != nil && *s.TP3 > s.TP2 {
			return ErrInvalidLevels
		}
	default:
		return ErrInvalidLevels
	}

	if s.Risk()/s.Entry > maxSLPct {
		return ErrStopTooWide
	}
	if s.RewardRisk() < minRR {
		return ErrInsufficientRR
	}
	return nil
}

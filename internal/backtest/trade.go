package backtest

import (
	"math"
	"time"

	"github.com/google/uuid"

	"hyperliquid-trading-bot/internal/signal"
)

// TradeStatus is the lifecycle state of a simulated trade
type TradeStatus string

const (
	TradeOpen    TradeStatus = "open"
	TradeTP1Hit  TradeStatus = "tp1_hit"
	TradeTP2Hit  TradeStatus = "tp2_hit"
	TradeTP3Hit  TradeStatus = "tp3_hit"
	TradeStopped TradeStatus = "stopped"
	TradeClosed  TradeStatus = "closed"
)

// PartialExit records one scale-out
type PartialExit struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	PnL       float64   `json:"pnl"`
}

// Trade is one simulated position opened from a signal
type Trade struct {
	ID                uuid.UUID        `json:"id"`
	StrategyRuleID    *uuid.UUID       `json:"strategy_rule_id,omitempty"`
	Symbol            string           `json:"symbol"`
	Side              signal.Side      `json:"side"`
	SetupType         signal.SetupType `json:"setup_type,omitempty"`
	EntryPrice        float64          `json:"entry_price"`
	EntryTime         time.Time        `json:"entry_time"`
	Quantity          float64          `json:"quantity"`
	RemainingQuantity float64          `json:"remaining_quantity"`
	Stop              float64          `json:"stop"`
	InitialStop       float64          `json:"initial_stop"`
	TPLevels          []float64        `json:"tp_levels"`
	Status            TradeStatus      `json:"status"`
	ExitPrice         *float64         `json:"exit_price,omitempty"`
	ExitTime          *time.Time       `json:"exit_time,omitempty"`
	ExitReason        string           `json:"exit_reason,omitempty"`
	RealizedPnL       float64          `json:"realized_pnl"`
	RMultiple         float64          `json:"r_multiple"`
	Reasoning         string           `json:"reasoning,omitempty"`
	PartialExits      []PartialExit    `json:"partial_exits,omitempty"`
}

// Active reports whether the trade still has exposure
func (t *Trade) Active() bool {
	return t.Status != TradeStopped && t.Status != TradeClosed
}

func (t *Trade) sideSign() float64 {
	if t.Side == signal.Short {
		return -1
	}
	return 1
}

// initialRisk is the per-unit risk at entry
func (t *Trade) initialRisk() float64 {
	return math.Abs(t.EntryPrice - t.InitialStop)
}

// finalizeR computes the R-multiple once the trade is terminal
func (t *Trade) finalizeR() {
	risk := t.initialRisk() * t.Quantity
	if risk > 0 {
		t.RMultiple = t.RealizedPnL / risk
	}
}

// nextTargetIndex returns the index of the first TP level not yet hit, or -1
func (t *Trade) nextTargetIndex() int {
	var hit int
	switch t.Status {
	case TradeTP1Hit:
		hit = 1
	case TradeTP2Hit:
		hit = 2
	case TradeTP3Hit:
		hit = 3
	}
	if hit >= len(t.TPLevels) {
		return -1
	}
	return hit
}

func statusAfterTarget(index int) TradeStatus {
	switch index {
	case 0:
		return TradeTP1Hit
	case 1:
		return TradeTP2Hit
	default:
		return TradeTP3Hit
	}
}

func (t *Trade) snapshot() Trade {
	cp := *t
	cp.TPLevels = append([]float64(nil), t.TPLevels...)
	cp.PartialExits = append([]PartialExit(nil), t.PartialExits...)
	return cp
}

package backtest

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/config"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/signal"
)

var (
	ErrNotRunning     = errors.New("backtest is not running")
	ErrAlreadyRunning = errors.New("backtest is already running")
	ErrNoCandles      = errors.New("no candles to replay")
)

// Status is the engine lifecycle state
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// EquityPoint is one sample of the equity curve
type EquityPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Equity      float64   `json:"equity"`
	Drawdown    float64   `json:"drawdown"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// State is a snapshot of a running or finished backtest
type State struct {
	Status             Status          `json:"status"`
	CurrentCandleIndex int             `json:"current_candle_index"`
	ProgressPercent    float64         `json:"progress_percent"`
	CurrentCapital     float64         `json:"current_capital"`
	PeakCapital        float64         `json:"peak_capital"`
	EquityCurve        []EquityPoint   `json:"equity_curve"`
	OpenTrades         []Trade         `json:"open_trades"`
	ClosedTrades       []Trade         `json:"closed_trades"`
	Signals            []signal.Signal `json:"signals"`
	Metrics            *Metrics        `json:"metrics,omitempty"`
}

// SignalFunc produces a signal for one candle, or nil
type SignalFunc func(index int, candle market.Candle) *signal.Signal

// ProgressFunc receives state snapshots during a run
type ProgressFunc func(state State)

// Engine replays an ordered candle stream through a signal generator and
// simulates fills with slippage and commission. Runs are deterministic:
// identical candles and signal behavior produce identical results.
type Engine struct {
	mu     sync.Mutex
	cond   *sync.Cond
	cfg    config.BacktestConfig
	logger zerolog.Logger

	status       Status
	totalCandles int
	candleIndex  int
	capital      float64
	peak         float64
	equityCurve  []EquityPoint
	openTrades   []*Trade
	closedTrades []*Trade
	signals      []signal.Signal
	metrics      *Metrics

	totalCommission float64
	totalSlippage   float64
}

// NewEngine creates a backtest engine
func NewEngine(cfg config.BacktestConfig, logger zerolog.Logger) *Engine {
	if cfg.EmitInterval <= 0 {
		cfg.EmitInterval = 100
	}
	e := &Engine{
		cfg:     cfg,
		logger:  logger.With().Str("component", "backtest").Logger(),
		status:  StatusIdle,
		capital: cfg.InitialCapital,
		peak:    cfg.InitialCapital,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Run replays the candle stream. It blocks until completion, abort, or
// context cancellation, and returns the final state.
func (e *Engine) Run(ctx context.Context, candles []market.Candle, generate SignalFunc, onProgress ProgressFunc) (*State, error) {
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}

	e.mu.Lock()
	if e.status == StatusRunning || e.status == StatusPaused {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.resetLocked()
	e.status = StatusRunning
	e.totalCandles = len(candles)
	e.mu.Unlock()

	// A cancelled context aborts the run at the next candle boundary
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	for i, candle := range candles {
		e.mu.Lock()
		for e.status == StatusPaused {
			e.cond.Wait()
		}
		if e.status == StatusAborted {
			e.forceCloseLocked(candles[maxInt(i-1, 0)])
			e.metrics = computeMetrics(e.closedTrades, e.equityCurve, e.cfg.InitialCapital, e.totalCommission, e.totalSlippage)
			state := e.stateLocked()
			e.mu.Unlock()
			return state, nil
		}

		e.candleIndex = i
		e.updateOpenTradesLocked(candle)

		sig := generate(i, candle)
		if sig != nil {
			e.tryOpenTradeLocked(sig, candle)
		}

		e.markEquityLocked(candle)

		var snapshot *State
		if onProgress != nil && (i+1)%e.cfg.EmitInterval == 0 {
			snapshot = e.stateLocked()
		}
		e.mu.Unlock()

		if snapshot != nil {
			onProgress(*snapshot)
		}
	}

	e.mu.Lock()
	e.forceCloseLocked(candles[len(candles)-1])
	// Re-mark the final candle so the last equity point reflects the
	// force-closed trades
	if n := len(e.equityCurve); n > 0 {
		e.equityCurve = e.equityCurve[:n-1]
	}
	e.markEquityLocked(candles[len(candles)-1])
	e.metrics = computeMetrics(e.closedTrades, e.equityCurve, e.cfg.InitialCapital, e.totalCommission, e.totalSlippage)
	e.status = StatusCompleted
	state := e.stateLocked()
	e.mu.Unlock()

	if onProgress != nil {
		onProgress(*state)
	}
	e.logger.Info().
		Int("candles", len(candles)).
		Int("trades", len(state.ClosedTrades)).
		Float64("final_capital", state.CurrentCapital).
		Msg("Backtest completed")
	return state, nil
}

// Pause suspends the run at the next candle boundary. Idempotent.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning {
		e.status = StatusPaused
	}
}

// Resume continues a paused run. Idempotent.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusPaused {
		e.status = StatusRunning
		e.cond.Broadcast()
	}
}

// Stop aborts the run; open trades are closed at the last processed candle.
// Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning || e.status == StatusPaused {
		e.status = StatusAborted
		e.cond.Broadcast()
	}
}

// CurrentState returns a snapshot of the engine state
func (e *Engine) CurrentState() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) resetLocked() {
	e.candleIndex = 0
	e.capital = e.cfg.InitialCapital
	e.peak = e.cfg.InitialCapital
	e.equityCurve = nil
	e.openTrades = nil
	e.closedTrades = nil
	e.signals = nil
	e.metrics = nil
	e.totalCommission = 0
	e.totalSlippage = 0
}

// updateOpenTradesLocked walks open trades against one candle: targets and
// stops that fall inside the candle range trigger exits.
func (e *Engine) updateOpenTradesLocked(candle market.Candle) {
	var still []*Trade
	for _, t := range e.openTrades {
		e.processCandleForTrade(t, candle)
		if t.Active() {
			e.trailStop(t, candle)
			still = append(still, t)
		} else {
			e.closedTrades = append(e.closedTrades, t)
		}
	}
	e.openTrades = still
}

func (e *Engine) processCandleForTrade(t *Trade, candle market.Candle) {
	stopHit := e.stopTouched(t, candle)
	targetIdx := t.nextTargetIndex()
	targetHit := targetIdx >= 0 && e.targetTouched(t, t.TPLevels[targetIdx], candle)

	// When both the stop and a target fall inside the candle, the open
	// price decides which fired first: an open nearer the stop means the
	// stop triggered before price could reach the target.
	if stopHit && targetHit {
		distStop := math.Abs(candle.Open - t.Stop)
		distTarget := math.Abs(candle.Open - t.TPLevels[targetIdx])
		if distStop < distTarget {
			e.exitStop(t, candle)
			return
		}
	}

	// Targets fire in ladder order within one candle
	for targetIdx >= 0 && e.targetTouched(t, t.TPLevels[targetIdx], candle) {
		e.exitTarget(t, targetIdx, candle)
		if !t.Active() {
			return
		}
		targetIdx = t.nextTargetIndex()
	}

	// The stop may have moved to breakeven above; re-check against it
	if e.stopTouched(t, candle) {
		e.exitStop(t, candle)
	}
}

func (e *Engine) stopTouched(t *Trade, candle market.Candle) bool {
	if t.Stop == 0 {
		return false
	}
	if t.Side == signal.Long {
		return candle.Low <= t.Stop
	}
	return candle.High >= t.Stop
}

func (e *Engine) targetTouched(t *Trade, target float64, candle market.Candle) bool {
	if t.Side == signal.Long {
		return candle.High >= target
	}
	return candle.Low <= target
}

// exitTarget scales out at one TP level. The last level in the ladder closes
// the remainder.
func (e *Engine) exitTarget(t *Trade, index int, candle market.Candle) {
	fraction := 1.0
	if e.cfg.PartialExitEnabled && index < len(t.TPLevels)-1 {
		switch index {
		case 0:
			fraction = e.cfg.TP1ExitPercent
		case 1:
			fraction = e.cfg.TP2ExitPercent
		}
	}
	qty := t.RemainingQuantity * fraction
	if fraction >= 1 || qty >= t.RemainingQuantity {
		qty = t.RemainingQuantity
	}

	target := t.TPLevels[index]
	fill := target * (1 - e.cfg.SlippagePercent*t.sideSign())
	pnl := e.closeQuantity(t, qty, fill, target, candle.Timestamp)

	level := statusAfterTarget(index)
	t.PartialExits = append(t.PartialExits, PartialExit{
		Timestamp: candle.Timestamp,
		Level:     string(level),
		Price:     fill,
		Quantity:  qty,
		PnL:       pnl,
	})

	if t.RemainingQuantity <= 0 {
		t.Status = TradeClosed
		t.ExitPrice = &fill
		ts := candle.Timestamp
		t.ExitTime = &ts
		t.ExitReason = "take_profit"
		t.finalizeR()
		return
	}

	t.Status = level
	if t.Status == TradeTP1Hit && e.cfg.PartialExitEnabled {
		// Breakeven after the first scale-out
		t.Stop = t.EntryPrice
	}
}

func (e *Engine) exitStop(t *Trade, candle market.Candle) {
	fill := t.Stop * (1 - e.cfg.SlippagePercent*t.sideSign())
	e.closeQuantity(t, t.RemainingQuantity, fill, t.Stop, candle.Timestamp)

	t.Status = TradeStopped
	t.ExitPrice = &fill
	ts := candle.Timestamp
	t.ExitTime = &ts
	if t.Stop == t.EntryPrice {
		t.ExitReason = "breakeven_stop"
	} else {
		t.ExitReason = "stop_loss"
	}
	t.finalizeR()
}

// closeQuantity books one exit fill and returns its net P&L
func (e *Engine) closeQuantity(t *Trade, qty, fill, ideal float64, ts time.Time) float64 {
	commission := fill * qty * e.cfg.CommissionPercent
	pnl := t.sideSign()*(fill-t.EntryPrice)*qty - commission

	t.RemainingQuantity -= qty
	if t.RemainingQuantity < 1e-12 {
		t.RemainingQuantity = 0
	}
	t.RealizedPnL += pnl
	e.capital += pnl
	e.totalCommission += commission
	e.totalSlippage += math.Abs(fill-ideal) * qty
	return pnl
}

func (e *Engine) tryOpenTradeLocked(sig *signal.Signal, candle market.Candle) {
	if len(e.openTrades) >= e.cfg.MaxOpenTrades {
		return
	}
	risk := math.Abs(sig.Entry - sig.Stop)
	if risk <= 0 || e.capital <= 0 {
		return
	}
	qty := e.capital * e.cfg.PositionSizePercent / risk
	if qty <= 0 {
		return
	}

	sign := 1.0
	if sig.Side == signal.Short {
		sign = -1
	}
	fill := sig.Entry * (1 + e.cfg.SlippagePercent*sign)
	commission := fill * qty * e.cfg.CommissionPercent
	e.capital -= commission
	e.totalCommission += commission
	e.totalSlippage += math.Abs(fill-sig.Entry) * qty

	levels := make([]float64, 0, 3)
	if sig.TP1 > 0 {
		levels = append(levels, sig.TP1)
	}
	if sig.TP2 > 0 {
		levels = append(levels, sig.TP2)
	}
	if sig.TP3 != nil {
		levels = append(levels, *sig.TP3)
	}

	t := &Trade{
		ID:                uuid.New(),
		StrategyRuleID:    sig.MatchedStrategyID,
		Symbol:            sig.Symbol,
		Side:              sig.Side,
		SetupType:         sig.SetupType,
		EntryPrice:        fill,
		EntryTime:         candle.Timestamp,
		Quantity:          qty,
		RemainingQuantity: qty,
		Stop:              sig.Stop,
		InitialStop:       sig.Stop,
		TPLevels:          levels,
		Status:            TradeOpen,
		Reasoning:         sig.Reasoning,
	}

	// Timestamp-sorted insertion keeps exit processing deterministic
	pos := len(e.openTrades)
	for i, other := range e.openTrades {
		if candle.Timestamp.Before(other.EntryTime) {
			pos = i
			break
		}
	}
	e.openTrades = append(e.openTrades, nil)
	copy(e.openTrades[pos+1:], e.openTrades[pos:])
	e.openTrades[pos] = t

	e.signals = append(e.signals, *sig)
	e.logger.Debug().
		Str("side", string(sig.Side)).
		Float64("entry", fill).
		Float64("quantity", qty).
		Msg("Backtest trade opened")
}

// trailStop ratchets the stop behind the close when trailing is enabled
func (e *Engine) trailStop(t *Trade, candle market.Candle) {
	if e.cfg.TrailingStopPercent <= 0 {
		return
	}
	if t.Side == signal.Long {
		if s := candle.Close * (1 - e.cfg.TrailingStopPercent); s > t.Stop {
			t.Stop = s
		}
	} else {
		if s := candle.Close * (1 + e.cfg.TrailingStopPercent); s < t.Stop || t.Stop == 0 {
			t.Stop = s
		}
	}
}

// forceCloseLocked exits remaining trades at the candle close
func (e *Engine) forceCloseLocked(candle market.Candle) {
	for _, t := range e.openTrades {
		fill := candle.Close
		e.closeQuantity(t, t.RemainingQuantity, fill, fill, candle.Timestamp)
		t.Status = TradeClosed
		t.ExitPrice = &fill
		ts := candle.Timestamp
		t.ExitTime = &ts
		t.ExitReason = "end_of_data"
		t.finalizeR()
		e.closedTrades = append(e.closedTrades, t)
	}
	e.openTrades = nil
}

// markEquityLocked appends an equity point at the candle close
func (e *Engine) markEquityLocked(candle market.Candle) {
	equity := e.capital
	for _, t := range e.openTrades {
		equity += t.sideSign() * (candle.Close - t.EntryPrice) * t.RemainingQuantity
	}
	if equity > e.peak {
		e.peak = equity
	}
	dd := e.peak - equity
	ddPct := 0.0
	if e.peak > 0 {
		ddPct = dd / e.peak
	}
	e.equityCurve = append(e.equityCurve, EquityPoint{
		Timestamp:   candle.Timestamp,
		Equity:      equity,
		Drawdown:    dd,
		DrawdownPct: ddPct,
	})
}

func (e *Engine) stateLocked() *State {
	open := make([]Trade, 0, len(e.openTrades))
	for _, t := range e.openTrades {
		open = append(open, t.snapshot())
	}
	closed := make([]Trade, 0, len(e.closedTrades))
	for _, t := range e.closedTrades {
		closed = append(closed, t.snapshot())
	}

	progress := 0.0
	if e.totalCandles > 0 {
		progress = 100 * float64(e.candleIndex+1) / float64(e.totalCandles)
	}
	if e.status == StatusCompleted {
		progress = 100
	}

	return &State{
		Status:             e.status,
		CurrentCandleIndex: e.candleIndex,
		ProgressPercent:    progress,
		CurrentCapital:     e.capital,
		PeakCapital:        e.peak,
		EquityCurve:        append([]EquityPoint(nil), e.equityCurve...),
		OpenTrades:         open,
		ClosedTrades:       closed,
		Signals:            append([]signal.Signal(nil), e.signals...),
		Metrics:            e.metrics,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/config"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/signal"
)

var testBase = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bc(i int, o, h, l, c float64) market.Candle {
	return market.Candle{
		Symbol:    "BTC",
		Timeframe: market.TF1h,
		Timestamp: testBase.Add(time.Duration(i) * time.Hour),
		Open:      o, High: h, Low: l, Close: c,
		Volume: 100,
	}
}

func frictionlessConfig() config.BacktestConfig {
	return config.BacktestConfig{
		InitialCapital:      10000,
		PositionSizePercent: 0.01,
		MaxOpenTrades:       3,
		PartialExitEnabled:  true,
		TP1ExitPercent:      0.5,
		TP2ExitPercent:      0.3,
		EmitInterval:        100,
	}
}

// ladderCandles builds the fixture for the partial-exit run: flat around
// 50000 until candle 60, then a rally through 51500 and 52000.
func ladderCandles() []market.Candle {
	candles := make([]market.Candle, 0, 100)
	for i := 0; i < 61; i++ {
		candles = append(candles, bc(i, 50000, 50100, 49900, 50000))
	}
	candles = append(candles, bc(61, 50800, 51600, 50700, 51400)) // tp1
	candles = append(candles, bc(62, 51400, 52100, 51300, 52000)) // tp2
	for i := 63; i < 100; i++ {
		candles = append(candles, bc(i, 52000, 52200, 51800, 52000))
	}
	return candles
}

func longAt60(i int, _ market.Candle) *signal.Signal {
	if i != 60 {
		return nil
	}
	return &signal.Signal{
		Symbol: "BTC",
		Side:   signal.Long,
		Entry:  50000,
		Stop:   49000,
		TP1:    51500,
		TP2:    52000,
	}
}

func TestPartialExitLadder(t *testing.T) {
	engine := NewEngine(frictionlessConfig(), zerolog.Nop())

	state, err := engine.Run(context.Background(), ladderCandles(), longAt60, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s", state.Status)
	}
	if len(state.ClosedTrades) != 1 {
		t.Fatalf("Expected one closed trade, got %d", len(state.ClosedTrades))
	}

	trade := state.ClosedTrades[0]
	if trade.Status != TradeClosed || trade.ExitReason != "take_profit" {
		t.Errorf("Expected take-profit close, got %s/%s", trade.Status, trade.ExitReason)
	}
	if len(trade.PartialExits) != 2 {
		t.Fatalf("Expected two exits, got %d", len(trade.PartialExits))
	}

	// qty = 10000*0.01/1000 = 0.1; half out at tp1
	first := trade.PartialExits[0]
	if first.Level != "tp1_hit" || first.Price != 51500 {
		t.Errorf("First exit wrong: %+v", first)
	}
	if math.Abs(first.Quantity-0.05) > 1e-9 {
		t.Errorf("Expected half size 0.05, got %f", first.Quantity)
	}
	if trade.Stop != 50000 {
		t.Errorf("Stop must move to breakeven after tp1, got %f", trade.Stop)
	}

	second := trade.PartialExits[1]
	if second.Price != 52000 || math.Abs(second.Quantity-0.05) > 1e-9 {
		t.Errorf("Second exit wrong: %+v", second)
	}

	// 0.05*1500 + 0.05*2000
	if math.Abs(trade.RealizedPnL-175) > 1e-9 {
		t.Errorf("Expected pnl 175, got %f", trade.RealizedPnL)
	}
	if math.Abs(trade.RMultiple-1.75) > 1e-9 {
		t.Errorf("Expected 1.75R, got %f", trade.RMultiple)
	}
	if math.Abs(state.CurrentCapital-10175) > 1e-9 {
		t.Errorf("Expected capital 10175, got %f", state.CurrentCapital)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() *State {
		engine := NewEngine(frictionlessConfig(), zerolog.Nop())
		state, err := engine.Run(context.Background(), ladderCandles(), longAt60, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return state
	}

	a, b := run(), run()
	if a.CurrentCapital != b.CurrentCapital {
		t.Errorf("Capital differs: %f vs %f", a.CurrentCapital, b.CurrentCapital)
	}
	if len(a.EquityCurve) != len(b.EquityCurve) {
		t.Fatalf("Curve lengths differ: %d vs %d", len(a.EquityCurve), len(b.EquityCurve))
	}
	for i := range a.EquityCurve {
		if a.EquityCurve[i] != b.EquityCurve[i] {
			t.Fatalf("Equity point %d differs: %+v vs %+v", i, a.EquityCurve[i], b.EquityCurve[i])
		}
	}
	ta, tb := a.ClosedTrades[0], b.ClosedTrades[0]
	if ta.RealizedPnL != tb.RealizedPnL || ta.EntryPrice != tb.EntryPrice || *ta.ExitPrice != *tb.ExitPrice {
		t.Error("Closed trades differ between identical runs")
	}
}

func TestStopLoss(t *testing.T) {
	candles := []market.Candle{
		bc(0, 100, 101, 99, 100),
		bc(1, 100, 101, 99, 100),
		bc(2, 99, 99.5, 94, 95), // through the stop
		bc(3, 95, 96, 94, 95),
	}
	gen := func(i int, _ market.Candle) *signal.Signal {
		if i != 1 {
			return nil
		}
		return &signal.Signal{Symbol: "BTC", Side: signal.Long, Entry: 100, Stop: 95, TP1: 110}
	}

	engine := NewEngine(frictionlessConfig(), zerolog.Nop())
	state, err := engine.Run(context.Background(), candles, gen, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	trade := state.ClosedTrades[0]
	if trade.Status != TradeStopped || trade.ExitReason != "stop_loss" {
		t.Errorf("Expected stop-out, got %s/%s", trade.Status, trade.ExitReason)
	}
	// qty = 10000*0.01/5 = 20; loss 20*5 = 100
	if math.Abs(trade.RealizedPnL+100) > 1e-9 {
		t.Errorf("Expected pnl -100, got %f", trade.RealizedPnL)
	}
	if math.Abs(trade.RMultiple+1) > 1e-9 {
		t.Errorf("Expected -1R, got %f", trade.RMultiple)
	}
}

func TestOpenNearStopFiresStopFirst(t *testing.T) {
	candles := []market.Candle{
		bc(0, 100, 101, 99, 100),
		bc(1, 100, 101, 99, 100),
		// Both the stop (95) and tp1 (110) inside the range; the open at 96
		// sits next to the stop
		bc(2, 96, 111, 94, 110),
		bc(3, 110, 111, 109, 110),
	}
	gen := func(i int, _ market.Candle) *signal.Signal {
		if i != 1 {
			return nil
		}
		return &signal.Signal{Symbol: "BTC", Side: signal.Long, Entry: 100, Stop: 95, TP1: 110}
	}

	engine := NewEngine(frictionlessConfig(), zerolog.Nop())
	state, _ := engine.Run(context.Background(), candles, gen, nil)

	trade := state.ClosedTrades[0]
	if trade.Status != TradeStopped {
		t.Errorf("Open near the stop must stop out first, got %s", trade.Status)
	}
	if len(trade.PartialExits) != 0 {
		t.Errorf("No target exit expected, got %+v", trade.PartialExits)
	}
}

func TestOpenNearTargetFiresTargetFirst(t *testing.T) {
	candles := []market.Candle{
		bc(0, 100, 101, 99, 100),
		bc(1, 100, 101, 99, 100),
		// Same range, but the open at 109 sits next to the target; tp1 fires,
		// the stop moves to breakeven, and the dip to 94 then stops the rest
		bc(2, 109, 111, 94, 100),
		bc(3, 100, 101, 99, 100),
	}
	gen := func(i int, _ market.Candle) *signal.Signal {
		if i != 1 {
			return nil
		}
		return &signal.Signal{Symbol: "BTC", Side: signal.Long, Entry: 100, Stop: 95, TP1: 110, TP2: 120}
	}

	engine := NewEngine(frictionlessConfig(), zerolog.Nop())
	state, _ := engine.Run(context.Background(), candles, gen, nil)

	trade := state.ClosedTrades[0]
	if len(trade.PartialExits) != 1 || trade.PartialExits[0].Level != "tp1_hit" {
		t.Fatalf("Expected a tp1 exit, got %+v", trade.PartialExits)
	}
	if trade.Status != TradeStopped || trade.ExitReason != "breakeven_stop" {
		t.Errorf("Remainder must stop at breakeven, got %s/%s", trade.Status, trade.ExitReason)
	}
	// qty 20: half out at 110 (+100), half flat at 100
	if math.Abs(trade.RealizedPnL-100) > 1e-9 {
		t.Errorf("Expected pnl 100, got %f", trade.RealizedPnL)
	}
}

func TestShortSideLadder(t *testing.T) {
	candles := []market.Candle{
		bc(0, 100, 101, 99, 100),
		bc(1, 100, 101, 99, 100),
		bc(2, 99, 99.5, 89.5, 90), // through tp1 at 90
		bc(3, 90, 91, 89, 90),
	}
	gen := func(i int, _ market.Candle) *signal.Signal {
		if i != 1 {
			return nil
		}
		return &signal.Signal{Symbol: "BTC", Side: signal.Short, Entry: 100, Stop: 105, TP1: 90}
	}

	engine := NewEngine(frictionlessConfig(), zerolog.Nop())
	state, _ := engine.Run(context.Background(), candles, gen, nil)

	trade := state.ClosedTrades[0]
	if trade.Status != TradeClosed || trade.ExitReason != "take_profit" {
		t.Errorf("Expected take-profit close, got %s/%s", trade.Status, trade.ExitReason)
	}
	// qty = 100/5 = 20; short 100 -> 90
	if math.Abs(trade.RealizedPnL-200) > 1e-9 {
		t.Errorf("Expected pnl 200, got %f", trade.RealizedPnL)
	}
}

func TestMaxOpenTradesEnforced(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.MaxOpenTrades = 1

	candles := make([]market.Candle, 20)
	for i := range candles {
		candles[i] = bc(i, 100, 101, 99, 100)
	}
	gen := func(i int, _ market.Candle) *signal.Signal {
		return &signal.Signal{Symbol: "BTC", Side: signal.Long, Entry: 100, Stop: 95, TP1: 200}
	}

	engine := NewEngine(cfg, zerolog.Nop())
	state, _ := engine.Run(context.Background(), candles, gen, nil)

	// One trade opened, never exited, force-closed at the end
	if len(state.ClosedTrades) != 1 {
		t.Errorf("Cap of one open trade, got %d trades", len(state.ClosedTrades))
	}
	if len(state.Signals) != 1 {
		t.Errorf("Only accepted signals are recorded, got %d", len(state.Signals))
	}
}

func TestForceCloseAtStreamEnd(t *testing.T) {
	candles := []market.Candle{
		bc(0, 100, 101, 99, 100),
		bc(1, 100, 101, 99, 100),
		bc(2, 100, 102, 100, 102),
	}
	gen := func(i int, _ market.Candle) *signal.Signal {
		if i != 1 {
			return nil
		}
		return &signal.Signal{Symbol: "BTC", Side: signal.Long, Entry: 100, Stop: 95, TP1: 110}
	}

	engine := NewEngine(frictionlessConfig(), zerolog.Nop())
	state, _ := engine.Run(context.Background(), candles, gen, nil)

	trade := state.ClosedTrades[0]
	if trade.ExitReason != "end_of_data" {
		t.Errorf("Expected end_of_data close, got %s", trade.ExitReason)
	}
	// qty 20, closed at 102
	if math.Abs(trade.RealizedPnL-40) > 1e-9 {
		t.Errorf("Expected pnl 40, got %f", trade.RealizedPnL)
	}
	if len(state.OpenTrades) != 0 {
		t.Errorf("No trades may survive the stream end, got %d", len(state.OpenTrades))
	}
}

func TestCommissionAndSlippageAccounting(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.CommissionPercent = 0.001
	cfg.SlippagePercent = 0.0005

	candles := []market.Candle{
		bc(0, 100, 101, 99, 100),
		bc(1, 100, 101, 99, 100),
		bc(2, 100, 111, 100, 110),
		bc(3, 110, 111, 109, 110),
	}
	gen := func(i int, _ market.Candle) *signal.Signal {
		if i != 1 {
			return nil
		}
		return &signal.Signal{Symbol: "BTC", Side: signal.Long, Entry: 100, Stop: 95, TP1: 110}
	}

	engine := NewEngine(cfg, zerolog.Nop())
	state, _ := engine.Run(context.Background(), candles, gen, nil)

	m := state.Metrics
	if m == nil {
		t.Fatal("Expected metrics")
	}
	if m.TotalCommission <= 0 || m.TotalSlippage <= 0 {
		t.Errorf("Costs must be tracked, got commission %f slippage %f", m.TotalCommission, m.TotalSlippage)
	}

	// Entry fills above the signal price for a long
	trade := state.ClosedTrades[0]
	if trade.EntryPrice <= 100 {
		t.Errorf("Long entry slippage must raise the fill, got %f", trade.EntryPrice)
	}
	if *trade.ExitPrice >= 110 {
		t.Errorf("Long exit slippage must lower the fill, got %f", *trade.ExitPrice)
	}

	// Cash identity: capital = initial + realized - entry commissions.
	// Exit commissions are already inside realized pnl.
	var realized, entryCommission float64
	for _, tr := range state.ClosedTrades {
		realized += tr.RealizedPnL
		entryCommission += tr.EntryPrice * tr.Quantity * cfg.CommissionPercent
	}
	want := cfg.InitialCapital + realized - entryCommission
	if math.Abs(state.CurrentCapital-want) > 1e-6 {
		t.Errorf("Capital identity broken: got %f want %f", state.CurrentCapital, want)
	}
}

func TestStopAbortsRun(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.EmitInterval = 10

	candles := make([]market.Candle, 100)
	for i := range candles {
		candles[i] = bc(i, 100, 101, 99, 100)
	}
	gen := func(int, market.Candle) *signal.Signal { return nil }

	engine := NewEngine(cfg, zerolog.Nop())
	state, err := engine.Run(context.Background(), candles, gen, func(s State) {
		engine.Stop()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusAborted {
		t.Errorf("Expected aborted, got %s", state.Status)
	}
	if state.CurrentCandleIndex >= 99 {
		t.Error("Abort must cut the run short")
	}

	// Stop after the fact is a no-op
	engine.Stop()
	if got := engine.CurrentState().Status; got != StatusAborted {
		t.Errorf("Status must stay aborted, got %s", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	cfg := frictionlessConfig()
	cfg.EmitInterval = 10

	candles := make([]market.Candle, 50)
	for i := range candles {
		candles[i] = bc(i, 100, 101, 99, 100)
	}
	gen := func(int, market.Candle) *signal.Signal { return nil }

	engine := NewEngine(cfg, zerolog.Nop())
	paused := false
	done := make(chan *State, 1)
	go func() {
		state, _ := engine.Run(context.Background(), candles, gen, func(s State) {
			if !paused {
				paused = true
				engine.Pause()
				go func() {
					time.Sleep(10 * time.Millisecond)
					engine.Resume()
				}()
			}
		})
		done <- state
	}()

	select {
	case state := <-done:
		if state.Status != StatusCompleted {
			t.Errorf("Expected completed after resume, got %s", state.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Backtest did not finish after resume")
	}
}

func TestCancelledContextAborts(t *testing.T) {
	candles := make([]market.Candle, 1000)
	for i := range candles {
		candles[i] = bc(i, 100, 101, 99, 100)
	}
	ctx, cancel := context.WithCancel(context.Background())
	gen := func(i int, _ market.Candle) *signal.Signal {
		if i == 10 {
			cancel()
			time.Sleep(10 * time.Millisecond)
		}
		return nil
	}

	engine := NewEngine(frictionlessConfig(), zerolog.Nop())
	state, err := engine.Run(ctx, candles, gen, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Status != StatusAborted {
		t.Errorf("Cancelled context must abort, got %s", state.Status)
	}
}

func TestEmptyStream(t *testing.T) {
	engine := NewEngine(frictionlessConfig(), zerolog.Nop())
	if _, err := engine.Run(context.Background(), nil, nil, nil); err != ErrNoCandles {
		t.Errorf("Expected ErrNoCandles, got %v", err)
	}
}

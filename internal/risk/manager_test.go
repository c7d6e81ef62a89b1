package risk

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/hyperliquid"
	"hyperliquid-trading-bot/internal/position"
)

type stubPositions struct {
	count    int
	exposure float64
	bySymbol map[string]*position.Position
}

func (s *stubPositions) OpenCount() int         { return s.count }
func (s *stubPositions) TotalExposure() float64 { return s.exposure }
func (s *stubPositions) Position(symbol string) *position.Position {
	if s.bySymbol == nil {
		return nil
	}
	return s.bySymbol[symbol]
}

func testLimits() Limits {
	return Limits{
		MaxOrderNotional:       5000,
		MaxPositionSizeUSD:     20000,
		MaxPositionSizePercent: 0.5,
		MaxTotalExposure:       50000,
		MaxExposurePercent:     0.8,
		MaxPositions:           3,
		MaxOpenOrders:          10,
		MaxDailyLoss:           1000,
		MaxConsecutiveLosses:   3,
		MaxConsecutiveErrors:   5,
		MaxPriceDeviation:      0.05,
		CircuitBreakerCooldown: time.Hour,
	}
}

func newTestManager(limits Limits, positions *stubPositions) *Manager {
	if positions == nil {
		positions = &stubPositions{}
	}
	return NewManager(limits,
		positions,
		func() float64 { return 100000 },
		func() int { return 0 },
		func(string) (float64, error) { return 50000, nil },
		zerolog.Nop())
}

func limitBuy(qty, price float64) hyperliquid.OrderRequest {
	return hyperliquid.OrderRequest{Symbol: "BTC", Side: hyperliquid.Buy, Kind: hyperliquid.Limit, Quantity: qty, Price: price}
}

func TestOversizedNotionalRejected(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	// 0.2 * 50000 = 10000 against a 5000 cap
	res := m.CheckOrder(limitBuy(0.2, 50000))
	if res.Approved {
		t.Fatal("Expected rejection")
	}
	if !strings.Contains(res.Reason, "notional") {
		t.Errorf("Reason must name the notional check, got %q", res.Reason)
	}
}

func TestSmallOrderApproved(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	res := m.CheckOrder(limitBuy(0.05, 50000))
	if !res.Approved {
		t.Fatalf("Expected approval, got %q", res.Reason)
	}
}

func TestConsecutiveLossesTripBreaker(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	m.RecordTrade(-100)
	m.RecordTrade(-50)
	if m.IsCircuitBreakerTripped() {
		t.Fatal("Breaker must not trip before the limit")
	}
	m.RecordTrade(-75)
	if !m.IsCircuitBreakerTripped() {
		t.Fatal("Three losses must trip the breaker")
	}

	res := m.CheckOrder(limitBuy(0.01, 50000))
	if res.Approved {
		t.Fatal("Tripped breaker must reject orders")
	}
	if !strings.Contains(res.Reason, "circuit breaker") {
		t.Errorf("Reason must name the breaker, got %q", res.Reason)
	}
}

func TestBreakerAutoResetsAfterCooldown(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.RecordTrade(-100)
	m.RecordTrade(-100)
	m.RecordTrade(-100)
	if res := m.CheckOrder(limitBuy(0.01, 50000)); res.Approved {
		t.Fatal("Expected rejection while tripped")
	}

	now = now.Add(time.Hour + time.Minute)
	res := m.CheckOrder(limitBuy(0.01, 50000))
	if !res.Approved {
		t.Fatalf("Breaker must auto-reset after the cooldown, got %q", res.Reason)
	}
	if m.IsCircuitBreakerTripped() {
		t.Error("Breaker must be clear after auto-reset")
	}
}

func TestWinResetsLossStreak(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	m.RecordTrade(-100)
	m.RecordTrade(-100)
	m.RecordTrade(50)
	m.RecordTrade(-100)
	m.RecordTrade(-100)
	if m.IsCircuitBreakerTripped() {
		t.Error("A win must reset the loss streak")
	}
}

func TestConsecutiveErrorsTripBreaker(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	boom := errors.New("exchange unreachable")
	for i := 0; i < 4; i++ {
		m.RecordError(boom)
	}
	m.RecordSuccess()
	for i := 0; i < 4; i++ {
		m.RecordError(boom)
	}
	if m.IsCircuitBreakerTripped() {
		t.Fatal("Success must reset the error streak")
	}
	m.RecordError(boom)
	if !m.IsCircuitBreakerTripped() {
		t.Error("Five consecutive errors must trip the breaker")
	}
}

func TestPositionSizeLimit(t *testing.T) {
	positions := &stubPositions{
		count:    1,
		exposure: 18000,
		bySymbol: map[string]*position.Position{
			"BTC": {Symbol: "BTC", Side: position.Long, Quantity: 0.36, AvgEntryPrice: 50000},
		},
	}
	m := newTestManager(testLimits(), positions)

	// Existing 18000 plus 4000 breaches the 20000 per-symbol cap
	res := m.CheckOrder(limitBuy(0.08, 50000))
	if res.Approved {
		t.Fatal("Expected rejection")
	}
	if !strings.Contains(res.Reason, "position size") {
		t.Errorf("Reason must name the position size check, got %q", res.Reason)
	}
}

func TestPositionCountLimit(t *testing.T) {
	m := newTestManager(testLimits(), &stubPositions{count: 3})

	res := m.CheckOrder(limitBuy(0.01, 50000))
	if res.Approved {
		t.Fatal("Expected rejection at the position cap")
	}
	if !strings.Contains(res.Reason, "position count") {
		t.Errorf("Reason must name the count check, got %q", res.Reason)
	}
}

func TestPositionCountAllowsExistingSymbol(t *testing.T) {
	positions := &stubPositions{
		count: 3,
		bySymbol: map[string]*position.Position{
			"BTC": {Symbol: "BTC", Side: position.Long, Quantity: 0.01, AvgEntryPrice: 50000},
		},
	}
	m := newTestManager(testLimits(), positions)

	// Adding to an already open symbol does not create a new position
	res := m.CheckOrder(limitBuy(0.01, 50000))
	if !res.Approved {
		t.Errorf("Expected approval for an open symbol, got %q", res.Reason)
	}
}

func TestExposureLimit(t *testing.T) {
	m := newTestManager(testLimits(), &stubPositions{count: 2, exposure: 48000})

	res := m.CheckOrder(limitBuy(0.09, 50000))
	if res.Approved {
		t.Fatal("Expected rejection")
	}
	if !strings.Contains(res.Reason, "exposure") {
		t.Errorf("Reason must name the exposure check, got %q", res.Reason)
	}
}

func TestDailyLossBlocksNewOrders(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	m.RecordTrade(-600)
	m.RecordTrade(200)
	m.RecordTrade(-700)
	res := m.CheckOrder(limitBuy(0.01, 50000))
	if res.Approved {
		t.Fatal("Expected rejection at the daily loss limit")
	}
	if !strings.Contains(res.Reason, "daily loss") {
		t.Errorf("Reason must name the daily loss check, got %q", res.Reason)
	}
}

func TestDailyMetricsRolloverAtMidnightUTC(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	now := time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.RecordTrade(-1200)
	if res := m.CheckOrder(limitBuy(0.01, 50000)); res.Approved {
		t.Fatal("Expected rejection before midnight")
	}

	now = time.Date(2024, 3, 2, 0, 10, 0, 0, time.UTC)
	res := m.CheckOrder(limitBuy(0.01, 50000))
	if !res.Approved {
		t.Errorf("Daily loss must reset at UTC midnight, got %q", res.Reason)
	}
}

func TestOpenOrdersCap(t *testing.T) {
	limits := testLimits()
	m := NewManager(limits,
		&stubPositions{},
		func() float64 { return 100000 },
		func() int { return 10 },
		func(string) (float64, error) { return 50000, nil },
		zerolog.Nop())

	res := m.CheckOrder(limitBuy(0.01, 50000))
	if res.Approved {
		t.Fatal("Expected rejection at the open order cap")
	}
	if !strings.Contains(res.Reason, "open orders") {
		t.Errorf("Reason must name the open order check, got %q", res.Reason)
	}
}

func TestPriceSanity(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	// Market quote is 50000; a limit at 54000 deviates 8%
	res := m.CheckOrder(limitBuy(0.01, 54000))
	if res.Approved {
		t.Fatal("Expected rejection for a far-from-market limit price")
	}
	if !strings.Contains(res.Reason, "deviates") {
		t.Errorf("Reason must name the deviation, got %q", res.Reason)
	}

	res = m.CheckOrder(limitBuy(0.01, 51000))
	if !res.Approved {
		t.Errorf("2%% deviation is within tolerance, got %q", res.Reason)
	}
}

func TestPriceSanitySkippedForMarketOrders(t *testing.T) {
	limits := testLimits()
	m := NewManager(limits,
		&stubPositions{},
		func() float64 { return 100000 },
		func() int { return 0 },
		func(string) (float64, error) { return 0, errors.New("no quote") },
		zerolog.Nop())

	res := m.CheckOrder(hyperliquid.OrderRequest{
		Symbol: "BTC", Side: hyperliquid.Buy, Kind: hyperliquid.Market, Quantity: 0.01, Price: 48000,
	})
	if !res.Approved {
		t.Errorf("Market orders skip the price sanity check, got %q", res.Reason)
	}

	res = m.CheckOrder(limitBuy(0.01, 48000))
	if res.Approved {
		t.Fatal("Limit order without a market quote must be rejected")
	}
	if !strings.Contains(res.Reason, "unavailable") {
		t.Errorf("Reason must name the missing quote, got %q", res.Reason)
	}
}

func TestManualTripAndReset(t *testing.T) {
	m := newTestManager(testLimits(), nil)

	m.TripCircuitBreaker("operator halt")
	res := m.CheckOrder(limitBuy(0.01, 50000))
	if res.Approved || !strings.Contains(res.Reason, "operator halt") {
		t.Errorf("Expected the manual trip reason, got %+v", res)
	}

	m.ResetCircuitBreaker()
	if res := m.CheckOrder(limitBuy(0.01, 50000)); !res.Approved {
		t.Errorf("Expected approval after reset, got %q", res.Reason)
	}
}

package position

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fill(symbol string, side Side, qty, price, fee float64) Fill {
	return Fill{
		Symbol: symbol, Side: side, Quantity: qty, Price: price,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		OrderID:   "oid", Fee: fee,
	}
}

func TestOpenAndAverageIn(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	if err := tr.UpdateFromFill(fill("BTC", Long, 1, 50000, 0)); err != nil {
		t.Fatalf("UpdateFromFill: %v", err)
	}
	if err := tr.UpdateFromFill(fill("BTC", Long, 1, 52000, 0)); err != nil {
		t.Fatalf("UpdateFromFill: %v", err)
	}

	pos := tr.Position("BTC")
	if pos == nil {
		t.Fatal("Expected a position")
	}
	if pos.Quantity != 2 {
		t.Errorf("Expected quantity 2, got %f", pos.Quantity)
	}
	if pos.AvgEntryPrice != 51000 {
		t.Errorf("Expected avg entry 51000, got %f", pos.AvgEntryPrice)
	}
}

func TestPartialCloseRealizesPnL(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.UpdateFromFill(fill("BTC", Long, 2, 50000, 0))
	tr.UpdateFromFill(fill("BTC", Short, 1, 51000, 10))

	pos := tr.Position("BTC")
	if pos.Quantity != 1 {
		t.Errorf("Expected quantity 1, got %f", pos.Quantity)
	}
	if pos.Side != Long {
		t.Errorf("Partial close keeps the side, got %s", pos.Side)
	}
	// (51000-50000)*1 - 10 fee
	if pos.RealizedPnL != 990 {
		t.Errorf("Expected realized 990, got %f", pos.RealizedPnL)
	}
	if pos.AvgEntryPrice != 50000 {
		t.Errorf("Partial close keeps the entry, got %f", pos.AvgEntryPrice)
	}
}

func TestFullRoundTrip(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.UpdateFromFill(fill("ETH", Long, 10, 3000, 5))
	tr.UpdateFromFill(fill("ETH", Short, 10, 3150, 5))

	pos := tr.Position("ETH")
	if !pos.Flat() {
		t.Fatalf("Expected flat, got %+v", pos)
	}
	if pos.AvgEntryPrice != 0 {
		t.Error("Flat position must clear its entry price")
	}
	// (3150-3000)*10 = 1500 minus both fees
	if pos.RealizedPnL != 1490 {
		t.Errorf("Expected realized 1490, got %f", pos.RealizedPnL)
	}
	if tr.OpenCount() != 0 {
		t.Errorf("Expected no open positions, got %d", tr.OpenCount())
	}
}

func TestOversizedCloseFlips(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.UpdateFromFill(fill("BTC", Long, 1, 50000, 0))
	tr.UpdateFromFill(fill("BTC", Short, 3, 49000, 0))

	pos := tr.Position("BTC")
	if pos.Side != Short {
		t.Fatalf("Expected a flip to short, got %s", pos.Side)
	}
	if pos.Quantity != 2 {
		t.Errorf("Expected remainder quantity 2, got %f", pos.Quantity)
	}
	if pos.AvgEntryPrice != 49000 {
		t.Errorf("Flipped position opens at the fill price, got %f", pos.AvgEntryPrice)
	}
	// The long leg lost (49000-50000)*1
	if pos.RealizedPnL != -1000 {
		t.Errorf("Expected realized -1000, got %f", pos.RealizedPnL)
	}
}

func TestShortSidePnL(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.UpdateFromFill(fill("SOL", Short, 100, 150, 0))
	tr.UpdateFromFill(fill("SOL", Long, 100, 140, 0))

	pos := tr.Position("SOL")
	if !pos.Flat() {
		t.Fatalf("Expected flat, got %+v", pos)
	}
	// Short from 150 covered at 140: -(140-150)*100 = +1000
	if pos.RealizedPnL != 1000 {
		t.Errorf("Expected realized 1000, got %f", pos.RealizedPnL)
	}
}

func TestUpdatePriceRecomputesUnrealized(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.UpdateFromFill(fill("BTC", Long, 2, 50000, 0))

	tr.UpdatePrice("BTC", 51000)
	pos := tr.Position("BTC")
	if pos.UnrealizedPnL != 2000 {
		t.Errorf("Expected unrealized 2000, got %f", pos.UnrealizedPnL)
	}
	if pos.CurrentPrice != 51000 {
		t.Errorf("Expected current price 51000, got %f", pos.CurrentPrice)
	}

	tr.UpdatePrice("BTC", 49500)
	if got := tr.Position("BTC").UnrealizedPnL; got != -1000 {
		t.Errorf("Expected unrealized -1000, got %f", got)
	}
}

func TestAggregates(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.UpdateFromFill(fill("BTC", Long, 1, 50000, 0))
	tr.UpdateFromFill(fill("ETH", Short, 10, 3000, 0))
	tr.UpdatePrice("BTC", 51000)
	tr.UpdatePrice("ETH", 2900)

	if got := tr.TotalExposure(); got != 80000 {
		t.Errorf("Expected exposure 80000, got %f", got)
	}
	// BTC +1000, ETH short +1000
	if got := tr.UnrealizedPnL(); got != 2000 {
		t.Errorf("Expected unrealized 2000, got %f", got)
	}
	if got := tr.TotalPnL(); got != 2000 {
		t.Errorf("Expected total 2000, got %f", got)
	}
	if tr.OpenCount() != 2 {
		t.Errorf("Expected 2 open positions, got %d", tr.OpenCount())
	}
}

func TestInvalidFillsRejected(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	cases := []Fill{
		{Symbol: "", Side: Long, Quantity: 1, Price: 100},
		{Symbol: "BTC", Side: Long, Quantity: 0, Price: 100},
		{Symbol: "BTC", Side: Long, Quantity: 1, Price: 0},
		{Symbol: "BTC", Side: "sideways", Quantity: 1, Price: 100},
	}
	for i, f := range cases {
		if err := tr.UpdateFromFill(f); err == nil {
			t.Errorf("Case %d: expected rejection", i)
		}
	}
}

func TestReopenAfterFlatCarriesRealized(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.UpdateFromFill(fill("BTC", Long, 1, 50000, 0))
	tr.UpdateFromFill(fill("BTC", Short, 1, 51000, 0))
	tr.UpdateFromFill(fill("BTC", Long, 1, 52000, 0))

	pos := tr.Position("BTC")
	if pos.Side != Long || pos.Quantity != 1 || pos.AvgEntryPrice != 52000 {
		t.Errorf("Reopened position wrong: %+v", pos)
	}
	if pos.RealizedPnL != 1000 {
		t.Errorf("Realized P&L must survive reopening, got %f", pos.RealizedPnL)
	}
}

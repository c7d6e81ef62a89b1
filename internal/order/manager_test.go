package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/hyperliquid"
	"hyperliquid-trading-bot/internal/position"
	"hyperliquid-trading-bot/internal/risk"
)

type stubSubmitter struct {
	placeErr  error
	cancelErr error
	placed    []hyperliquid.OrderRequest
	cancelled []string
	nextID    int
}

func (s *stubSubmitter) PlaceOrder(_ context.Context, req hyperliquid.OrderRequest) (*hyperliquid.Order, error) {
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	s.nextID++
	s.placed = append(s.placed, req)
	return &hyperliquid.Order{
		ID:     fmt.Sprintf("ex-%d", s.nextID),
		Symbol: req.Symbol,
		Status: hyperliquid.StatusOpen,
	}, nil
}

func (s *stubSubmitter) CancelOrder(_ context.Context, orderID string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, orderID)
	return nil
}

func newTestManager(limits risk.Limits, sub *stubSubmitter) (*Manager, *position.Tracker, *hyperliquid.MemoryAuditSink) {
	tracker := position.NewTracker(zerolog.Nop())
	audit := hyperliquid.NewMemoryAuditSink()

	var mgr *Manager
	riskMgr := risk.NewManager(limits,
		tracker,
		func() float64 { return 1000000 },
		func() int { return mgr.OpenOrderCount() },
		func(string) (float64, error) { return 50000, nil },
		zerolog.Nop())
	mgr = NewManager(riskMgr, sub, tracker, audit, zerolog.Nop())
	return mgr, tracker, audit
}

func buy(qty, price float64) hyperliquid.OrderRequest {
	return hyperliquid.OrderRequest{Symbol: "BTC", Side: hyperliquid.Buy, Kind: hyperliquid.Limit, Quantity: qty, Price: price}
}

func TestSubmitApprovedOrder(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, _ := newTestManager(risk.Limits{}, sub)

	mo, err := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if mo.State != StateOpen {
		t.Errorf("Expected open state, got %s", mo.State)
	}
	if mo.ExchangeID != "ex-1" {
		t.Errorf("Expected exchange id ex-1, got %s", mo.ExchangeID)
	}
	if len(sub.placed) != 1 {
		t.Errorf("Expected one submission, got %d", len(sub.placed))
	}
	if mgr.OpenOrderCount() != 1 {
		t.Errorf("Expected one open order, got %d", mgr.OpenOrderCount())
	}
}

func TestSubmitRiskRejected(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, audit := newTestManager(risk.Limits{MaxOrderNotional: 5000}, sub)

	mo, err := mgr.SubmitOrder(context.Background(), buy(0.2, 50000))
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("Expected ErrRiskRejected, got %v", err)
	}
	if mo.State != StateRiskRejected {
		t.Errorf("Expected risk_rejected state, got %s", mo.State)
	}
	if !strings.Contains(mo.RejectReason, "notional") {
		t.Errorf("Reject reason must name the failed check, got %q", mo.RejectReason)
	}
	if len(sub.placed) != 0 {
		t.Error("Rejected order must not reach the exchange")
	}
	if mgr.OpenOrderCount() != 0 {
		t.Errorf("Rejected order must not count as open, got %d", mgr.OpenOrderCount())
	}

	events := audit.Events()
	if len(events) != 1 || events[0].Kind != "order_risk_rejected" {
		t.Errorf("Expected one order_risk_rejected audit event, got %+v", events)
	}
}

func TestSubmitterFailureMarksFailed(t *testing.T) {
	sub := &stubSubmitter{placeErr: errors.New("exchange down")}
	mgr, _, audit := newTestManager(risk.Limits{}, sub)

	mo, err := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	if err == nil {
		t.Fatal("Expected a submission error")
	}
	if mo.State != StateFailed {
		t.Errorf("Expected failed state, got %s", mo.State)
	}
	if mgr.OpenOrderCount() != 0 {
		t.Errorf("Failed order must not count as open, got %d", mgr.OpenOrderCount())
	}
	events := audit.Events()
	if len(events) != 1 || events[0].Kind != "order_failed" {
		t.Errorf("Expected one order_failed audit event, got %+v", events)
	}
}

func TestOpenOrderCapCountsLiveOrders(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, _ := newTestManager(risk.Limits{MaxOpenOrders: 2}, sub)

	for i := 0; i < 2; i++ {
		if _, err := mgr.SubmitOrder(context.Background(), buy(1, 50000)); err != nil {
			t.Fatalf("SubmitOrder %d: %v", i, err)
		}
	}
	mo, err := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("Third order must hit the cap, got %v", err)
	}
	if !strings.Contains(mo.RejectReason, "open orders") {
		t.Errorf("Reject reason must name the cap, got %q", mo.RejectReason)
	}
}

func TestProcessFillPartialThenFull(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, tracker, _ := newTestManager(risk.Limits{}, sub)

	mo, err := mgr.SubmitOrder(context.Background(), buy(2, 50000))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := mgr.ProcessFill(mo.ExchangeID, 1, 50000, 0, ts); err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	got, _ := mgr.Order(mo.ID)
	if got.State != StatePartiallyFilled {
		t.Errorf("Expected partially_filled, got %s", got.State)
	}
	if got.AvgFillPrice != 50000 {
		t.Errorf("Expected avg 50000, got %f", got.AvgFillPrice)
	}

	if err := mgr.ProcessFill(mo.ExchangeID, 1, 51000, 0, ts.Add(time.Second)); err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	got, _ = mgr.Order(mo.ID)
	if got.State != StateFilled {
		t.Errorf("Expected filled, got %s", got.State)
	}
	// (50000*1 + 51000*1) / 2
	if got.AvgFillPrice != 50500 {
		t.Errorf("Expected avg 50500, got %f", got.AvgFillPrice)
	}
	if mgr.OpenOrderCount() != 0 {
		t.Errorf("Filled order must not count as open, got %d", mgr.OpenOrderCount())
	}

	pos := tracker.Position("BTC")
	if pos == nil || pos.Quantity != 2 || pos.AvgEntryPrice != 50500 {
		t.Errorf("Fills must flow into the position tracker, got %+v", pos)
	}
}

func TestFillForTerminalOrderIgnored(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, tracker, _ := newTestManager(risk.Limits{}, sub)

	mo, _ := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	if err := mgr.ProcessFill(mo.ExchangeID, 1, 50000, 0, time.Now()); err != nil {
		t.Fatalf("ProcessFill: %v", err)
	}
	if err := mgr.ProcessFill(mo.ExchangeID, 1, 50000, 0, time.Now()); err != nil {
		t.Fatalf("Duplicate fill must be ignored, got %v", err)
	}
	if pos := tracker.Position("BTC"); pos.Quantity != 1 {
		t.Errorf("Duplicate fill must not move the position, got %f", pos.Quantity)
	}
}

func TestFillForUnknownOrder(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, _ := newTestManager(risk.Limits{}, sub)

	err := mgr.ProcessFill("no-such-id", 1, 50000, 0, time.Now())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelOrderIdempotent(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, audit := newTestManager(risk.Limits{}, sub)

	mo, _ := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	if err := mgr.CancelOrder(context.Background(), mo.ID, "signal invalidated"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	got, _ := mgr.Order(mo.ID)
	if got.State != StateCancelled {
		t.Errorf("Expected cancelled, got %s", got.State)
	}

	// Second cancel is a no-op
	if err := mgr.CancelOrder(context.Background(), mo.ID, "again"); err != nil {
		t.Fatalf("Cancel of a terminal order must be a no-op, got %v", err)
	}
	if len(sub.cancelled) != 1 {
		t.Errorf("Expected one exchange cancel, got %d", len(sub.cancelled))
	}

	var cancels int
	for _, ev := range audit.Events() {
		if ev.Kind == "order_cancelled" {
			cancels++
		}
	}
	if cancels != 1 {
		t.Errorf("Expected one cancel audit event, got %d", cancels)
	}
}

func TestCancelAllSkipsTerminal(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, _ := newTestManager(risk.Limits{}, sub)

	first, _ := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	second, _ := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	mgr.ProcessFill(first.ExchangeID, 1, 50000, 0, time.Now())

	if err := mgr.CancelAllOrders(context.Background(), "shutdown"); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if len(sub.cancelled) != 1 || sub.cancelled[0] != second.ExchangeID {
		t.Errorf("Only the live order must be cancelled, got %v", sub.cancelled)
	}
	if mgr.OpenOrderCount() != 0 {
		t.Errorf("Expected no open orders, got %d", mgr.OpenOrderCount())
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, _ := newTestManager(risk.Limits{}, sub)

	mo, _ := mgr.SubmitOrder(context.Background(), buy(1, 50000))
	if err := mgr.UpdateOrderStatus(mo.ExchangeID, hyperliquid.StatusExpired); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	got, _ := mgr.Order(mo.ID)
	if got.State != StateExpired {
		t.Errorf("Expected expired, got %s", got.State)
	}

	// A terminal local state never regresses
	if err := mgr.UpdateOrderStatus(mo.ExchangeID, hyperliquid.StatusOpen); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	got, _ = mgr.Order(mo.ID)
	if got.State != StateExpired {
		t.Errorf("Terminal state must not regress, got %s", got.State)
	}

	if err := mgr.UpdateOrderStatus("missing", hyperliquid.StatusOpen); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestOpenOrdersSnapshot(t *testing.T) {
	sub := &stubSubmitter{}
	mgr, _, _ := newTestManager(risk.Limits{}, sub)

	mgr.SubmitOrder(context.Background(), buy(1, 50000))
	mo, _ := mgr.SubmitOrder(context.Background(), buy(2, 50000))
	mgr.CancelOrder(context.Background(), mo.ID, "test")

	open := mgr.OpenOrders()
	if len(open) != 1 {
		t.Fatalf("Expected one open order, got %d", len(open))
	}
	if open[0].Request.Quantity != 1 {
		t.Errorf("Wrong order surviving, got %+v", open[0])
	}
}

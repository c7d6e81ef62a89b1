package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/hyperliquid"
	"hyperliquid-trading-bot/internal/position"
	"hyperliquid-trading-bot/internal/risk"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrRiskRejected  = errors.New("order rejected by risk checks")
)

// State is the lifecycle state of a managed order
type State string

const (
	StatePending         State = "pending"
	StateRiskRejected    State = "risk_rejected"
	StateSubmitted       State = "submitted"
	StateOpen            State = "open"
	StatePartiallyFilled State = "partially_filled"
	StateFilled          State = "filled"
	StateCancelled       State = "cancelled"
	StateRejected        State = "rejected"
	StateExpired         State = "expired"
	StateFailed          State = "failed"
)

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired, StateFailed, StateRiskRejected:
		return true
	}
	return false
}

// ManagedOrder is the local view of one order's lifecycle
type ManagedOrder struct {
	ID             uuid.UUID                `json:"id"`
	ExchangeID     string                   `json:"exchange_id,omitempty"`
	Request        hyperliquid.OrderRequest `json:"request"`
	State          State                    `json:"state"`
	FilledQuantity float64                  `json:"filled_quantity"`
	AvgFillPrice   float64                  `json:"avg_fill_price"`
	RejectReason   string                   `json:"reject_reason,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// Submitter sends a risk-approved order to the exchange
type Submitter interface {
	PlaceOrder(ctx context.Context, req hyperliquid.OrderRequest) (*hyperliquid.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Manager runs the order lifecycle: risk check, submission, fill processing
// and cancellation. Submission is a single critical section so risk checks
// see a consistent view of open orders.
type Manager struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*ManagedOrder
	byExchID  map[string]uuid.UUID
	openCount atomic.Int64
	riskMgr   *risk.Manager
	submitter Submitter
	tracker   *position.Tracker
	audit     hyperliquid.AuditSink
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates an order manager
func NewManager(riskMgr *risk.Manager, submitter Submitter, tracker *position.Tracker, audit hyperliquid.AuditSink, logger zerolog.Logger) *Manager {
	return &Manager{
		orders:    make(map[uuid.UUID]*ManagedOrder),
		byExchID:  make(map[string]uuid.UUID),
		riskMgr:   riskMgr,
		submitter: submitter,
		tracker:   tracker,
		audit:     audit,
		logger:    logger.With().Str("component", "order_manager").Logger(),
		now:       time.Now,
	}
}

// SubmitOrder runs the risk check and, if approved, submits the order. The
// returned order is in risk_rejected, failed or submitted/open state.
func (m *Manager) SubmitOrder(ctx context.Context, req hyperliquid.OrderRequest) (*ManagedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mo := &ManagedOrder{
		ID:        uuid.New(),
		Request:   req,
		State:     StatePending,
		CreatedAt: m.now(),
		UpdatedAt: m.now(),
	}
	m.orders[mo.ID] = mo

	if res := m.riskMgr.CheckOrder(req); !res.Approved {
		m.transitionLocked(mo, StateRiskRejected)
		mo.RejectReason = res.Reason
		m.audit.Record(hyperliquid.AuditEvent{Kind: "order_risk_rejected", Payload: mo.snapshot(), At: m.now()})
		m.logger.Warn().Str("order_id", mo.ID.String()).Str("reason", res.Reason).Msg("Order rejected by risk checks")
		return mo.snapshot(), fmt.Errorf("%w: %s", ErrRiskRejected, res.Reason)
	}

	exchOrder, err := m.submitter.PlaceOrder(ctx, req)
	if err != nil {
		m.transitionLocked(mo, StateFailed)
		mo.RejectReason = err.Error()
		m.riskMgr.RecordError(err)
		m.audit.Record(hyperliquid.AuditEvent{Kind: "order_failed", Payload: mo.snapshot(), At: m.now()})
		return mo.snapshot(), fmt.Errorf("submit order: %w", err)
	}

	m.riskMgr.RecordSuccess()
	mo.ExchangeID = exchOrder.ID
	m.byExchID[exchOrder.ID] = mo.ID
	m.transitionLocked(mo, StateSubmitted)
	if exchOrder.Status == hyperliquid.StatusOpen {
		m.transitionLocked(mo, StateOpen)
	}
	m.logger.Info().
		Str("order_id", mo.ID.String()).
		Str("exchange_id", mo.ExchangeID).
		Str("symbol", req.Symbol).
		Msg("Order submitted")
	return mo.snapshot(), nil
}

// ProcessFill applies one fill: size-weighted average price, state advance,
// and position tracker update.
func (m *Manager) ProcessFill(exchangeID string, quantity, price, fee float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mo, err := m.byExchangeIDLocked(exchangeID)
	if err != nil {
		return err
	}
	if mo.State.Terminal() {
		m.logger.Warn().Str("exchange_id", exchangeID).Str("state", string(mo.State)).Msg("Fill for terminal order ignored")
		return nil
	}

	total := mo.FilledQuantity + quantity
	mo.AvgFillPrice = (mo.AvgFillPrice*mo.FilledQuantity + price*quantity) / total
	mo.FilledQuantity = total

	if mo.FilledQuantity >= mo.Request.Quantity {
		m.transitionLocked(mo, StateFilled)
	} else {
		m.transitionLocked(mo, StatePartiallyFilled)
	}

	side := position.Long
	if mo.Request.Side == hyperliquid.Sell {
		side = position.Short
	}
	return m.tracker.UpdateFromFill(position.Fill{
		Symbol:    mo.Request.Symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: ts,
		OrderID:   exchangeID,
		Fee:       fee,
	})
}

// CancelOrder cancels one order on the exchange. Cancelling a terminal order
// is a no-op.
func (m *Manager) CancelOrder(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mo, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	return m.cancelLocked(ctx, mo, reason)
}

// CancelAllOrders cancels every non-terminal order, returning the first error
// after attempting all of them
func (m *Manager) CancelAllOrders(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, mo := range m.orders {
		if mo.State.Terminal() {
			continue
		}
		if err := m.cancelLocked(ctx, mo, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) cancelLocked(ctx context.Context, mo *ManagedOrder, reason string) error {
	if mo.State.Terminal() {
		return nil
	}
	if mo.ExchangeID != "" {
		if err := m.submitter.CancelOrder(ctx, mo.ExchangeID); err != nil {
			return fmt.Errorf("cancel order %s: %w", mo.ExchangeID, err)
		}
	}
	m.transitionLocked(mo, StateCancelled)
	mo.RejectReason = reason
	m.audit.Record(hyperliquid.AuditEvent{Kind: "order_cancelled", Payload: mo.snapshot(), At: m.now()})
	m.logger.Info().Str("order_id", mo.ID.String()).Str("reason", reason).Msg("Order cancelled")
	return nil
}

// UpdateOrderStatus maps an exchange-reported status onto the local state
// machine. Terminal local states never regress.
func (m *Manager) UpdateOrderStatus(exchangeID string, status hyperliquid.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mo, err := m.byExchangeIDLocked(exchangeID)
	if err != nil {
		return err
	}
	if mo.State.Terminal() {
		return nil
	}

	switch status {
	case hyperliquid.StatusOpen:
		m.transitionLocked(mo, StateOpen)
	case hyperliquid.StatusPartiallyFilled:
		m.transitionLocked(mo, StatePartiallyFilled)
	case hyperliquid.StatusFilled:
		m.transitionLocked(mo, StateFilled)
	case hyperliquid.StatusCancelled:
		m.transitionLocked(mo, StateCancelled)
	case hyperliquid.StatusRejected:
		m.transitionLocked(mo, StateRejected)
	case hyperliquid.StatusExpired:
		m.transitionLocked(mo, StateExpired)
	default:
		return fmt.Errorf("unknown exchange order status %q", status)
	}
	return nil
}

// Order returns a snapshot of one managed order
func (m *Manager) Order(id uuid.UUID) (*ManagedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mo, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return mo.snapshot(), nil
}

// OpenOrders returns snapshots of all non-terminal orders
func (m *Manager) OpenOrders() []ManagedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ManagedOrder, 0, len(m.orders))
	for _, mo := range m.orders {
		if !mo.State.Terminal() {
			out = append(out, *mo.snapshot())
		}
	}
	return out
}

// OpenOrderCount returns the number of non-terminal orders. It is lock-free
// so the risk manager can read it from inside a submission.
func (m *Manager) OpenOrderCount() int {
	return int(m.openCount.Load())
}

func (m *Manager) byExchangeIDLocked(exchangeID string) (*ManagedOrder, error) {
	id, ok := m.byExchID[exchangeID]
	if !ok {
		return nil, fmt.Errorf("%w: exchange id %s", ErrOrderNotFound, exchangeID)
	}
	return m.orders[id], nil
}

func (m *Manager) transitionLocked(mo *ManagedOrder, next State) {
	m.logger.Debug().
		Str("order_id", mo.ID.String()).
		Str("from", string(mo.State)).
		Str("to", string(next)).
		Msg("Order state transition")
	// The open count tracks orders that reached the exchange: it starts at
	// the pending->submitted transition, not at creation, so an order being
	// risk-checked does not count against its own open-order limit.
	if next.Terminal() {
		if mo.State != StatePending && !mo.State.Terminal() {
			m.openCount.Add(-1)
		}
	} else if mo.State == StatePending {
		m.openCount.Add(1)
	}
	mo.State = next
	mo.UpdatedAt = m.now()
}

func (mo *ManagedOrder) snapshot() *ManagedOrder {
	cp := *mo
	return &cp
}

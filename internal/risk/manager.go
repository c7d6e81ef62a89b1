package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/hyperliquid"
	"hyperliquid-trading-bot/internal/position"
)

// Limits is the full pre-trade check configuration. Zero values disable the
// corresponding check.
type Limits struct {
	MaxOrderNotional       float64
	MaxPositionSizeUSD     float64
	MaxPositionSizePercent float64
	MaxTotalExposure       float64
	MaxExposurePercent     float64
	MaxPositions           int
	MaxOpenOrders          int
	MaxDailyLoss           float64
	MaxDailyLossPercent    float64
	MaxConsecutiveLosses   int
	MaxConsecutiveErrors   int
	MaxPriceDeviation      float64
	CircuitBreakerCooldown time.Duration
}

// CheckResult is the outcome of a pre-trade check
type CheckResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func approved() CheckResult {
	return CheckResult{Approved: true}
}

func rejected(format string, args ...interface{}) CheckResult {
	return CheckResult{Approved: false, Reason: fmt.Sprintf(format, args...)}
}

// PositionSource exposes the position state the checks need
type PositionSource interface {
	OpenCount() int
	TotalExposure() float64
	Position(symbol string) *position.Position
}

// Manager runs ordered pre-trade checks and owns the circuit breaker and the
// daily loss accounting. All state transitions are serialized under one mutex.
type Manager struct {
	mu     sync.Mutex
	limits Limits
	logger zerolog.Logger

	positions   PositionSource
	balance     func() float64
	openOrders  func() int
	marketPrice func(symbol string) (float64, error)

	now func() time.Time

	// daily metrics, reset at UTC midnight
	day          time.Time
	dailyPnL     float64
	dailyWins    int
	dailyLosses  int
	consecLosses int
	consecErrors int

	breakerTripped bool
	breakerReason  string
	trippedAt      time.Time
}

// NewManager creates a risk manager. balance, openOrders and marketPrice are
// snapshot providers; marketPrice may return an error when no price is known.
func NewManager(limits Limits, positions PositionSource, balance func() float64, openOrders func() int, marketPrice func(string) (float64, error), logger zerolog.Logger) *Manager {
	return &Manager{
		limits:      limits,
		positions:   positions,
		balance:     balance,
		openOrders:  openOrders,
		marketPrice: marketPrice,
		logger:      logger.With().Str("component", "risk_manager").Logger(),
		now:         time.Now,
	}
}

// CheckOrder runs the checks in fixed order and returns the first rejection.
// A tripped circuit breaker auto-resets once the cooldown has elapsed.
func (m *Manager) CheckOrder(req hyperliquid.OrderRequest) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	if m.breakerTripped {
		if m.limits.CircuitBreakerCooldown > 0 && m.now().Sub(m.trippedAt) > m.limits.CircuitBreakerCooldown {
			m.resetBreakerLocked("cooldown elapsed")
		} else {
			return rejected("circuit breaker tripped: %s", m.breakerReason)
		}
	}

	notional := req.Quantity * req.Price
	if req.Kind == hyperliquid.Market && req.Price == 0 {
		if p, err := m.marketPrice(req.Symbol); err == nil {
			notional = req.Quantity * p
		}
	}

	if m.limits.MaxOrderNotional > 0 && notional > m.limits.MaxOrderNotional {
		return rejected("order notional %.2f exceeds limit %.2f", notional, m.limits.MaxOrderNotional)
	}

	if r := m.checkPositionSize(req.Symbol, notional); !r.Approved {
		return r
	}

	if m.limits.MaxPositions > 0 && m.positions.OpenCount() >= m.limits.MaxPositions {
		if pos := m.positions.Position(req.Symbol); pos == nil || pos.Flat() {
			return rejected("position count %d at limit %d", m.positions.OpenCount(), m.limits.MaxPositions)
		}
	}

	if r := m.checkExposure(notional); !r.Approved {
		return r
	}

	if r := m.checkDailyLoss(); !r.Approved {
		return r
	}

	if m.limits.MaxOpenOrders > 0 && m.openOrders() >= m.limits.MaxOpenOrders {
		return rejected("open orders %d at limit %d", m.openOrders(), m.limits.MaxOpenOrders)
	}

	if r := m.checkPriceSanity(req); !r.Approved {
		return r
	}

	return approved()
}

func (m *Manager) checkPositionSize(symbol string, notional float64) CheckResult {
	current := 0.0
	if pos := m.positions.Position(symbol); pos != nil {
		current = math.Abs(pos.AvgEntryPrice * pos.Quantity)
	}
	total := current + notional

	if m.limits.MaxPositionSizeUSD > 0 && total > m.limits.MaxPositionSizeUSD {
		return rejected("position size %.2f exceeds limit %.2f", total, m.limits.MaxPositionSizeUSD)
	}
	if m.limits.MaxPositionSizePercent > 0 {
		if limit := m.limits.MaxPositionSizePercent * m.balance(); total > limit {
			return rejected("position size %.2f exceeds %.0f%% of balance", total, m.limits.MaxPositionSizePercent*100)
		}
	}
	return approved()
}

func (m *Manager) checkExposure(notional float64) CheckResult {
	total := m.positions.TotalExposure() + notional

	if m.limits.MaxTotalExposure > 0 && total > m.limits.MaxTotalExposure {
		return rejected("total exposure %.2f exceeds limit %.2f", total, m.limits.MaxTotalExposure)
	}
	if m.limits.MaxExposurePercent > 0 {
		if limit := m.limits.MaxExposurePercent * m.balance(); total > limit {
			return rejected("total exposure %.2f exceeds %.0f%% of balance", total, m.limits.MaxExposurePercent*100)
		}
	}
	return approved()
}

func (m *Manager) checkDailyLoss() CheckResult {
	if m.limits.MaxDailyLoss > 0 && m.dailyPnL <= -m.limits.MaxDailyLoss {
		return rejected("daily loss %.2f at limit %.2f", -m.dailyPnL, m.limits.MaxDailyLoss)
	}
	if m.limits.MaxDailyLossPercent > 0 {
		if limit := m.limits.MaxDailyLossPercent * m.balance(); limit > 0 && m.dailyPnL <= -limit {
			return rejected("daily loss %.2f at %.0f%% of balance", -m.dailyPnL, m.limits.MaxDailyLossPercent*100)
		}
	}
	return approved()
}

// checkPriceSanity rejects limit orders priced too far from the market.
// Market orders are exempt.
func (m *Manager) checkPriceSanity(req hyperliquid.OrderRequest) CheckResult {
	if req.Kind == hyperliquid.Market || m.limits.MaxPriceDeviation <= 0 {
		return approved()
	}

	mkt, err := m.marketPrice(req.Symbol)
	if err != nil || mkt <= 0 {
		return rejected("market price unavailable for %s", req.Symbol)
	}
	deviation := math.Abs(req.Price-mkt) / mkt
	if deviation > m.limits.MaxPriceDeviation {
		return rejected("price %.2f deviates %.1f%% from market %.2f", req.Price, deviation*100, mkt)
	}
	return approved()
}

// RecordTrade updates daily P&L and loss streaks. A streak at the limit trips
// the breaker.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.dailyPnL += pnl
	if pnl < 0 {
		m.dailyLosses++
		m.consecLosses++
		if m.limits.MaxConsecutiveLosses > 0 && m.consecLosses >= m.limits.MaxConsecutiveLosses {
			m.tripLocked(fmt.Sprintf("%d consecutive losses", m.consecLosses))
		}
	} else {
		m.dailyWins++
		m.consecLosses = 0
	}
}

// RecordError increments the consecutive-error counter and trips the breaker
// at the limit
func (m *Manager) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.consecErrors++
	m.logger.Warn().Err(err).Int("consecutive", m.consecErrors).Msg("Operational error recorded")
	if m.limits.MaxConsecutiveErrors > 0 && m.consecErrors >= m.limits.MaxConsecutiveErrors {
		m.tripLocked(fmt.Sprintf("%d consecutive errors", m.consecErrors))
	}
}

// RecordSuccess resets the consecutive-error counter
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecErrors = 0
}

// TripCircuitBreaker trips the breaker manually
func (m *Manager) TripCircuitBreaker(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tripLocked(reason)
}

// ResetCircuitBreaker clears the breaker
func (m *Manager) ResetCircuitBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetBreakerLocked("manual reset")
}

// IsCircuitBreakerTripped reports the breaker state without auto-resetting
func (m *Manager) IsCircuitBreakerTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerTripped
}

// Stats returns a snapshot of the daily counters and breaker state
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"daily_pnl":          m.dailyPnL,
		"daily_wins":         m.dailyWins,
		"daily_losses":       m.dailyLosses,
		"consecutive_losses": m.consecLosses,
		"consecutive_errors": m.consecErrors,
		"breaker_tripped":    m.breakerTripped,
		"breaker_reason":     m.breakerReason,
	}
}

func (m *Manager) tripLocked(reason string) {
	if m.breakerTripped {
		return
	}
	m.breakerTripped = true
	m.breakerReason = reason
	m.trippedAt = m.now()
	m.logger.Error().Str("reason", reason).Msg("Circuit breaker tripped")
}

func (m *Manager) resetBreakerLocked(cause string) {
	m.breakerTripped = false
	m.breakerReason = ""
	m.consecLosses = 0
	m.consecErrors = 0
	m.logger.Info().Str("cause", cause).Msg("Circuit breaker reset")
}

// rolloverLocked resets daily metrics on the first operation of a new UTC day
func (m *Manager) rolloverLocked() {
	today := m.now().UTC().Truncate(24 * time.Hour)
	if today.Equal(m.day) {
		return
	}
	if !m.day.IsZero() {
		m.logger.Info().Float64("daily_pnl", m.dailyPnL).Msg("Daily risk metrics rolled over")
	}
	m.day = today
	m.dailyPnL = 0
	m.dailyWins = 0
	m.dailyLosses = 0
}

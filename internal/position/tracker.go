package position

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrInvalidFill = errors.New("invalid fill")

// Side is the position direction
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Fill is the only mutation source for positions
type Fill struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"order_id"`
	Fee       float64   `json:"fee"`
}

// Position is the net exposure for one symbol, derived from fill history
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	CurrentPrice  float64 `json:"current_price,omitempty"`
}

// Flat reports whether the position has no exposure
func (p *Position) Flat() bool {
	return p.Quantity == 0
}

func (p *Position) sideSign() float64 {
	if p.Side == Short {
		return -1
	}
	return 1
}

// Tracker maintains positions per symbol. Fills for one symbol are serialized
// under the tracker mutex.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*Position
	logger    zerolog.Logger
}

// NewTracker creates an empty position tracker
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]*Position),
		logger:    logger.With().Str("component", "position_tracker").Logger(),
	}
}

// UpdateFromFill applies one fill. Same-side fills average in; opposite-side
// fills realize P&L and may flip the position.
func (t *Tracker) UpdateFromFill(fill Fill) error {
	if fill.Symbol == "" || fill.Quantity <= 0 || fill.Price <= 0 {
		return ErrInvalidFill
	}
	if fill.Side != Long && fill.Side != Short {
		return ErrInvalidFill
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[fill.Symbol]
	if !ok || pos.Flat() {
		carried := 0.0
		if ok {
			carried = pos.RealizedPnL
		}
		t.positions[fill.Symbol] = &Position{
			Symbol:        fill.Symbol,
			Side:          fill.Side,
			Quantity:      fill.Quantity,
			AvgEntryPrice: fill.Price,
			RealizedPnL:   carried - fill.Fee,
		}
		t.logPosition("Position opened", t.positions[fill.Symbol])
		return nil
	}

	if fill.Side == pos.Side {
		total := pos.Quantity + fill.Quantity
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + fill.Price*fill.Quantity) / total
		pos.Quantity = total
		pos.RealizedPnL -= fill.Fee
		t.logPosition("Position increased", pos)
		return nil
	}

	// Opposite side: realize against the existing position
	closeQty := math.Min(fill.Quantity, pos.Quantity)
	pos.RealizedPnL += pos.sideSign()*(fill.Price-pos.AvgEntryPrice)*closeQty - fill.Fee
	pos.Quantity -= closeQty

	if pos.Quantity == 0 {
		if remainder := fill.Quantity - closeQty; remainder > 0 {
			// Oversized close flips the position
			pos.Side = fill.Side
			pos.Quantity = remainder
			pos.AvgEntryPrice = fill.Price
			pos.UnrealizedPnL = 0
			t.logPosition("Position flipped", pos)
			return nil
		}
		pos.AvgEntryPrice = 0
		pos.UnrealizedPnL = 0
		t.logPosition("Position closed", pos)
		return nil
	}

	t.logPosition("Position reduced", pos)
	return nil
}

// UpdatePrice sets the mark price and recomputes unrealized P&L
func (t *Tracker) UpdatePrice(symbol string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	if pos.Flat() {
		pos.UnrealizedPnL = 0
		return
	}
	pos.UnrealizedPnL = pos.sideSign() * (price - pos.AvgEntryPrice) * pos.Quantity
}

// Position returns a snapshot for one symbol, or nil
func (t *Tracker) Position(symbol string) *Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return nil
	}
	snapshot := *pos
	return &snapshot
}

// Positions returns snapshots of all non-flat positions
func (t *Tracker) Positions() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if !pos.Flat() {
			out = append(out, *pos)
		}
	}
	return out
}

// OpenCount returns the number of non-flat positions
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, pos := range t.positions {
		if !pos.Flat() {
			n++
		}
	}
	return n
}

// TotalExposure returns the aggregate absolute notional at entry prices
func (t *Tracker) TotalExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sum float64
	for _, pos := range t.positions {
		sum += math.Abs(pos.AvgEntryPrice * pos.Quantity)
	}
	return sum
}

// RealizedPnL returns the aggregate realized P&L including fees
func (t *Tracker) RealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sum float64
	for _, pos := range t.positions {
		sum += pos.RealizedPnL
	}
	return sum
}

// UnrealizedPnL returns the aggregate unrealized P&L at current mark prices
func (t *Tracker) UnrealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sum float64
	for _, pos := range t.positions {
		sum += pos.UnrealizedPnL
	}
	return sum
}

// TotalPnL returns realized plus unrealized P&L
func (t *Tracker) TotalPnL() float64 {
	return t.RealizedPnL() + t.UnrealizedPnL()
}

func (t *Tracker) logPosition(msg string, pos *Position) {
	t.logger.Debug().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("quantity", pos.Quantity).
		Float64("avg_entry", pos.AvgEntryPrice).
		Float64("realized_pnl", pos.RealizedPnL).
		Msg(msg)
}

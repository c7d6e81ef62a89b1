package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"hyperliquid-trading-bot/internal/market"
)

// WireCandle is one entry of a candleSnapshot response. Prices arrive as
// strings and must be parsed.
type WireCandle struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Trades    int    `json:"n"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
}

// ToCandle parses the wire representation and validates the result
func (w WireCandle) ToCandle() (market.Candle, error) {
	parse := func(field, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s %q: %w", field, v, err)
		}
		return f, nil
	}

	o, err := parse("open", w.Open)
	if err != nil {
		return market.Candle{}, err
	}
	h, err := parse("high", w.High)
	if err != nil {
		return market.Candle{}, err
	}
	l, err := parse("low", w.Low)
	if err != nil {
		return market.Candle{}, err
	}
	c, err := parse("close", w.Close)
	if err != nil {
		return market.Candle{}, err
	}
	v, err := parse("volume", w.Volume)
	if err != nil {
		return market.Candle{}, err
	}

	candle := market.Candle{
		Timestamp: time.UnixMilli(w.OpenTime).UTC(),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		Symbol:    w.Symbol,
		Timeframe: market.Timeframe(w.Interval),
	}
	if err := candle.Validate(time.Now().UTC()); err != nil {
		return market.Candle{}, fmt.Errorf("candle %s %s @%d: %w", w.Symbol, w.Interval, w.OpenTime, err)
	}
	return candle, nil
}

// candleSnapshotRequest is the info-endpoint payload for historical candles
type candleSnapshotRequest struct {
	Op  string              `json:"type"`
	Req candleSnapshotInner `json:"req"`
}

type candleSnapshotInner struct {
	Coin     string `json:"coin"`
	Interval string `json:"interval"`
	StartMs  int64  `json:"startTime"`
	EndMs    int64  `json:"endTime"`
}

// OrderSide is the exchange-level order direction
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderKind is the exchange-level order type
type OrderKind string

const (
	Market     OrderKind = "market"
	Limit      OrderKind = "limit"
	StopLoss   OrderKind = "stop_loss"
	TakeProfit OrderKind = "take_profit"
)

// OrderStatus is the exchange-reported order state
type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// OrderRequest describes an order to be placed
type OrderRequest struct {
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Kind      OrderKind `json:"kind"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price,omitempty"`
	StopPrice float64   `json:"stop_price,omitempty"`
}

// Order is an exchange-acknowledged order
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Kind      OrderKind   `json:"kind"`
	Quantity  float64     `json:"quantity"`
	Filled    float64     `json:"filled"`
	Price     float64     `json:"price,omitempty"`
	StopPrice float64     `json:"stop_price,omitempty"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// ExchangePosition is the exchange-reported position snapshot
type ExchangePosition struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      float64 `json:"leverage"`
}

// AccountState is the account balance snapshot
type AccountState struct {
	Equity           float64 `json:"equity"`
	AvailableBalance float64 `json:"available_balance"`
	MarginUsed       float64 `json:"margin_used"`
}

// SymbolInfo carries the exchange's precision and size constraints
type SymbolInfo struct {
	Symbol   string  `json:"symbol"`
	TickSize float64 `json:"tick_size"`
	LotSize  float64 `json:"lot_size"`
	MinQty   float64 `json:"min_qty"`
	MaxQty   float64 `json:"max_qty"`
}

// UserEvent is a message from the user-event subscription
type UserEvent struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

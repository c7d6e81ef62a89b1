package hyperliquid

import (
	"context"
)

// ExchangeClient is the capability contract the core depends on. The REST
// client implements it against Hyperliquid; tests and backtests substitute
// in-memory fakes.
type ExchangeClient interface {
	LoadSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	RoundPrice(symbol string, p float64) float64
	RoundQuantity(symbol string, q float64) float64

	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, id string) error
	CancelAllOrders(ctx context.Context, symbol string) ([]string, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	GetPositions(ctx context.Context) ([]ExchangePosition, error)
	GetAccountBalance(ctx context.Context) (AccountState, error)
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)

	Healthcheck(ctx context.Context) bool
	SubscribeUserEvents(ctx context.Context, callback func(UserEvent)) (*Subscription, error)
}

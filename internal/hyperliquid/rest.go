package hyperliquid

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/market"
)

var (
	ErrMaxRetries       = errors.New("request failed after max retries")
	ErrSymbolUnknown    = errors.New("symbol not in exchange metadata")
	ErrPriceUnavailable = errors.New("market price unavailable")
)

const maxCandleBatch = 500

// ClientConfig holds REST client settings
type ClientConfig struct {
	BaseURL        string
	WebsocketURL   string
	APIKey         string
	APISecret      string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client is the Hyperliquid REST client. All calls pass through the rate
// limiter; state-changing calls are audited.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *RateLimiter
	audit   AuditSink
	logger  zerolog.Logger

	mu      sync.RWMutex
	symbols map[string]SymbolInfo
}

// NewClient creates a REST client
func NewClient(cfg ClientConfig, limiter *RateLimiter, audit AuditSink, logger zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: limiter,
		audit:   audit,
		logger:  logger.With().Str("component", "hyperliquid_client").Logger(),
		symbols: make(map[string]SymbolInfo),
	}
}

// FetchCandles requests one candleSnapshot batch. The exchange caps batches
// at 500 candles, ordered by open time ascending.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, startMs, endMs int64) ([]market.Candle, error) {
	req := candleSnapshotRequest{
		Op: "candleSnapshot",
		Req: candleSnapshotInner{
			Coin:     symbol,
			Interval: string(tf),
			StartMs:  startMs,
			EndMs:    endMs,
		},
	}

	var wire []WireCandle
	if err := c.post(ctx, "/info", req, &wire); err != nil {
		return nil, fmt.Errorf("fetch candles %s %s: %w", symbol, tf, err)
	}
	if len(wire) > maxCandleBatch {
		wire = wire[:maxCandleBatch]
	}

	candles := make([]market.Candle, 0, len(wire))
	for _, w := range wire {
		candle, err := w.ToCandle()
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping invalid candle from snapshot")
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

type metaResponse struct {
	Universe []struct {
		Name          string  `json:"name"`
		SzDecimals    int     `json:"szDecimals"`
		PriceDecimals int     `json:"priceDecimals"`
		MinQty        float64 `json:"minQty"`
		MaxQty        float64 `json:"maxQty"`
	} `json:"universe"`
}

// LoadSymbolInfo fetches and caches precision metadata for a symbol
func (c *Client) LoadSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	c.mu.RLock()
	if info, ok := c.symbols[symbol]; ok {
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	var meta metaResponse
	if err := c.post(ctx, "/info", map[string]string{"type": "meta"}, &meta); err != nil {
		return SymbolInfo{}, fmt.Errorf("load meta: %w", err)
	}

	c.mu.Lock()
	for _, u := range meta.Universe {
		c.symbols[u.Name] = SymbolInfo{
			Symbol:   u.Name,
			TickSize: math.Pow10(-u.PriceDecimals),
			LotSize:  math.Pow10(-u.SzDecimals),
			MinQty:   u.MinQty,
			MaxQty:   u.MaxQty,
		}
	}
	info, ok := c.symbols[symbol]
	c.mu.Unlock()

	if !ok {
		return SymbolInfo{}, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}
	return info, nil
}

// RoundPrice snaps a price to the symbol's tick size. Unknown symbols pass
// through unchanged.
func (c *Client) RoundPrice(symbol string, p float64) float64 {
	c.mu.RLock()
	info, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok || info.TickSize <= 0 {
		return p
	}
	return math.Round(p/info.TickSize) * info.TickSize
}

// RoundQuantity floors a quantity to the symbol's lot size
func (c *Client) RoundQuantity(symbol string, q float64) float64 {
	c.mu.RLock()
	info, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok || info.LotSize <= 0 {
		return q
	}
	return math.Floor(q/info.LotSize) * info.LotSize
}

// PlaceOrder rounds, validates and submits an order
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	info, err := c.LoadSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	req.Quantity = c.RoundQuantity(req.Symbol, req.Quantity)
	if req.Price > 0 {
		req.Price = c.RoundPrice(req.Symbol, req.Price)
	}
	if req.StopPrice > 0 {
		req.StopPrice = c.RoundPrice(req.Symbol, req.StopPrice)
	}
	if req.Quantity < info.MinQty {
		return nil, fmt.Errorf("quantity %f below minimum %f for %s", req.Quantity, info.MinQty, req.Symbol)
	}
	if info.MaxQty > 0 && req.Quantity > info.MaxQty {
		return nil, fmt.Errorf("quantity %f above maximum %f for %s", req.Quantity, info.MaxQty, req.Symbol)
	}

	var order Order
	if err := c.signedPost(ctx, "/exchange", map[string]interface{}{
		"action": "order",
		"order":  req,
	}, &order); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	c.recordAudit("order_submitted", req)
	return &order, nil
}

// CancelOrder cancels a single order by exchange id
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	if err := c.signedPost(ctx, "/exchange", map[string]interface{}{
		"action":   "cancel",
		"order_id": id,
	}, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	c.recordAudit("order_cancelled", map[string]string{"order_id": id})
	return nil
}

// CancelAllOrders cancels every open order, optionally scoped to a symbol,
// and returns the cancelled ids
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) ([]string, error) {
	var out struct {
		Cancelled []string `json:"cancelled"`
	}
	if err := c.signedPost(ctx, "/exchange", map[string]interface{}{
		"action": "cancelAll",
		"symbol": symbol,
	}, &out); err != nil {
		return nil, fmt.Errorf("cancel all orders: %w", err)
	}
	c.recordAudit("orders_mass_cancelled", map[string]interface{}{"symbol": symbol, "count": len(out.Cancelled)})
	return out.Cancelled, nil
}

// GetOrder fetches a single order by exchange id
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.post(ctx, "/info", map[string]string{"type": "orderStatus", "oid": id}, &order); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &order, nil
}

// GetOpenOrders lists open orders, optionally scoped to a symbol
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var orders []Order
	if err := c.post(ctx, "/info", map[string]string{"type": "openOrders", "symbol": symbol}, &orders); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	return orders, nil
}

type clearinghouseResponse struct {
	Equity           string `json:"equity"`
	AvailableBalance string `json:"withdrawable"`
	MarginUsed       string `json:"marginUsed"`
	Positions        []struct {
		Coin          string `json:"coin"`
		Side          string `json:"side"`
		Size          string `json:"szi"`
		EntryPrice    string `json:"entryPx"`
		UnrealizedPnL string `json:"unrealizedPnl"`
		Leverage      string `json:"leverage"`
	} `json:"assetPositions"`
}

// GetPositions returns the exchange's position snapshots
func (c *Client) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]ExchangePosition, 0, len(state.Positions))
	for _, p := range state.Positions {
		positions = append(positions, ExchangePosition{
			Symbol:        p.Coin,
			Side:          p.Side,
			Quantity:      parseFloat(p.Size),
			EntryPrice:    parseFloat(p.EntryPrice),
			UnrealizedPnL: parseFloat(p.UnrealizedPnL),
			Leverage:      parseFloat(p.Leverage),
		})
	}
	return positions, nil
}

// GetAccountBalance returns the account equity snapshot
func (c *Client) GetAccountBalance(ctx context.Context) (AccountState, error) {
	state, err := c.clearinghouse(ctx)
	if err != nil {
		return AccountState{}, err
	}
	return AccountState{
		Equity:           parseFloat(state.Equity),
		AvailableBalance: parseFloat(state.AvailableBalance),
		MarginUsed:       parseFloat(state.MarginUsed),
	}, nil
}

func (c *Client) clearinghouse(ctx context.Context) (*clearinghouseResponse, error) {
	var state clearinghouseResponse
	if err := c.post(ctx, "/info", map[string]string{"type": "clearinghouseState"}, &state); err != nil {
		return nil, fmt.Errorf("clearinghouse state: %w", err)
	}
	return &state, nil
}

// GetMarketPrice returns the current mid price for a symbol
func (c *Client) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	var mids map[string]string
	if err := c.post(ctx, "/info", map[string]string{"type": "allMids"}, &mids); err != nil {
		return 0, fmt.Errorf("all mids: %w", err)
	}
	raw, ok := mids[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil || p <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrPriceUnavailable, symbol, raw)
	}
	return p, nil
}

// Healthcheck reports whether the info endpoint answers
func (c *Client) Healthcheck(ctx context.Context) bool {
	var mids map[string]string
	return c.post(ctx, "/info", map[string]string{"type": "allMids"}, &mids) == nil
}

// post sends an unauthenticated request with retry and rate limiting
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	return c.send(ctx, path, payload, out, false)
}

// signedPost sends an authenticated request
func (c *Client) signedPost(ctx context.Context, path string, payload, out interface{}) error {
	return c.send(ctx, path, payload, out, true)
}

func (c *Client) send(ctx context.Context, path string, payload, out interface{}, signed bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	for attempt := 0; attempt <= c.cfg.MaxRetries; {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		status, respBody, header, err := c.doOnce(ctx, path, body, signed)
		switch {
		case err != nil:
			// Transport errors are transient
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("path", path).Msg("Request failed")
			attempt++
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}

		case status == http.StatusTooManyRequests:
			// Does not count against max retries
			wait := retryAfter(header)
			c.logger.Warn().Dur("retry_after", wait).Msg("Rate limited by exchange")
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}

		case status >= 500:
			c.logger.Warn().Int("status", status).Int("attempt", attempt).Str("path", path).Msg("Server error")
			attempt++
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}

		case status >= 400:
			return fmt.Errorf("request %s rejected with status %d: %s", path, status, truncate(respBody, 256))

		default:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMaxRetries, path)
}

func (c *Client) doOnce(ctx context.Context, path string, body []byte, signed bool) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", c.sign(append(body, []byte(ts)...)))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

func (c *Client) sign(msg []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
	return sleepCtx(ctx, delay)
}

func (c *Client) recordAudit(kind string, payload interface{}) {
	if c.audit == nil {
		return
	}
	c.audit.Record(AuditEvent{Kind: kind, Payload: payload, At: time.Now().UTC()})
}

// retryAfter reads the Retry-After header of a 429 response, defaulting to
// one second
func retryAfter(header http.Header) time.Duration {
	if header != nil {
		if secs, err := strconv.ParseFloat(header.Get("Retry-After"), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return time.Second
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

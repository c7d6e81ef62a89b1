package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CandleCache is a read-through Redis cache for candle windows, keyed by
// (symbol, timeframe). TTLs scale with the timeframe so shorter periods
// refresh faster.
type CandleCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewCandleCache creates a candle cache on the given Redis client
func NewCandleCache(client *redis.Client, logger zerolog.Logger) *CandleCache {
	return &CandleCache{
		client: client,
		logger: logger.With().Str("component", "CandleCache").Logger(),
	}
}

func cacheKey(symbol string, tf Timeframe) string {
	return fmt.Sprintf("candles:%s:%s", symbol, tf)
}

// Get returns the cached window for (symbol, timeframe), or nil on miss.
// Cache errors are logged and treated as misses.
func (cc *CandleCache) Get(ctx context.Context, symbol string, tf Timeframe) []Candle {
	if cc.client == nil {
		return nil
	}
	raw, err := cc.client.Get(ctx, cacheKey(symbol, tf)).Bytes()
	if err != nil {
		if err != redis.Nil {
			cc.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("Candle cache read failed")
		}
		return nil
	}
	var candles []Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		cc.logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache entry corrupt, dropping")
		cc.client.Del(ctx, cacheKey(symbol, tf))
		return nil
	}
	return candles
}

// Set stores a candle window with a timeframe-appropriate TTL
func (cc *CandleCache) Set(ctx context.Context, symbol string, tf Timeframe, candles []Candle) {
	if cc.client == nil {
		return
	}
	raw, err := json.Marshal(candles)
	if err != nil {
		cc.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to marshal candles for cache")
		return
	}
	if err := cc.client.Set(ctx, cacheKey(symbol, tf), raw, cacheTTL(tf)).Err(); err != nil {
		cc.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("Candle cache write failed")
	}
}

// Invalidate drops the cached window for (symbol, timeframe)
func (cc *CandleCache) Invalidate(ctx context.Context, symbol string, tf Timeframe) {
	if cc.client == nil {
		return
	}
	cc.client.Del(ctx, cacheKey(symbol, tf))
}

// cacheTTL returns the cache TTL for a timeframe
func cacheTTL(tf Timeframe) time.Duration {
	switch tf {
	case TF1m, TF3m:
		return 30 * time.Second
	case TF5m:
		return 2 * time.Minute
	case TF15m, TF30m:
		return 5 * time.Minute
	case TF1h, TF2h:
		return 30 * time.Minute
	case TF4h, TF8h, TF12h:
		return 2 * time.Hour
	case TF1d, TF3d, TF1w, TF1M:
		return 12 * time.Hour
	default:
		return time.Minute
	}
}

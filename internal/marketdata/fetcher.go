package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/market"
)

// maxBatchSize mirrors the exchange's candleSnapshot cap
const maxBatchSize = 500

// CandleFetcher is the batch-fetch surface of the exchange client
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, startMs, endMs int64) ([]market.Candle, error)
}

// Progress summarizes a fetch in flight, reported after each batch
type Progress struct {
	Fetched int
	Batches int
	Oldest  time.Time
	Newest  time.Time
}

// ProgressFunc receives fetch progress. It is called outside any lock.
type ProgressFunc func(Progress)

// Fetcher pages historical candles out of the exchange, windowing backward
// from the newest requested time until history runs out.
type Fetcher struct {
	client    CandleFetcher
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewFetcher creates a fetcher on the given client
func NewFetcher(client CandleFetcher, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		batchSize: maxBatchSize,
		logger:    logger.With().Str("component", "fetcher").Logger(),
		now:       time.Now,
	}
}

// FetchAll pulls every candle in (start, end] for one symbol and timeframe,
// batching backward from end. A zero end means now; a zero start means fetch
// until a short batch signals the beginning of history. Duplicates across
// batch boundaries are dropped by timestamp and the result is sorted
// ascending.
func (f *Fetcher) FetchAll(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time, onProgress ProgressFunc) ([]market.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}
	if end.IsZero() {
		end = f.now()
	}
	window := time.Duration(f.batchSize) * tf.Duration()

	var (
		all     []market.Candle
		seen    = make(map[int64]struct{})
		batches int
		oldest  time.Time
		newest  time.Time
	)
	cursor := end
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		windowStart := cursor.Add(-window)
		if !start.IsZero() && windowStart.Before(start) {
			windowStart = start
		}

		batch, err := f.client.FetchCandles(ctx, symbol, tf, windowStart.UnixMilli(), cursor.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batches+1, err)
		}
		batches++

		for _, c := range batch {
			key := c.Timestamp.UnixMilli()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, c)
			if oldest.IsZero() || c.Timestamp.Before(oldest) {
				oldest = c.Timestamp
			}
			if newest.IsZero() || c.Timestamp.After(newest) {
				newest = c.Timestamp
			}
		}

		if onProgress != nil {
			onProgress(Progress{Fetched: len(all), Batches: batches, Oldest: oldest, Newest: newest})
		}
		f.logger.Debug().
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Int("batch", batches).
			Int("fetched", len(all)).
			Msg("Fetched candle batch")

		if !start.IsZero() && !windowStart.After(start) {
			break
		}
		if len(batch) < f.batchSize {
			break
		}
		cursor = windowStart
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

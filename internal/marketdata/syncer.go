package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/database"
	"hyperliquid-trading-bot/internal/market"
)

// CandleStore is the slice of the repository the syncer depends on
type CandleStore interface {
	UpsertCandles(ctx context.Context, candles []market.Candle, source database.CandleSource) (int, error)
	NewestCandleTime(ctx context.Context, symbol string, tf market.Timeframe, source database.CandleSource) (time.Time, error)
	BeginSync(ctx context.Context, symbol string, tf market.Timeframe, source database.CandleSource) error
	FinishSync(ctx context.Context, symbol string, tf market.Timeframe, source database.CandleSource, oldest, newest time.Time, count int64, syncErr error) error
}

// SyncResult summarizes one completed sync
type SyncResult struct {
	Symbol    string
	Timeframe market.Timeframe
	Fetched   int
	Stored    int
	Oldest    time.Time
	Newest    time.Time
}

// Syncer pulls exchange history into the candle store incrementally. Each
// (symbol, timeframe) pair has a repository-backed cursor; a second sync of
// the same pair while one is running fails with database.ErrAlreadySyncing.
type Syncer struct {
	fetcher *Fetcher
	store   CandleStore
	cache   *market.CandleCache
	logger  zerolog.Logger
}

// NewSyncer creates a syncer. cache may be nil when Redis is not configured.
func NewSyncer(fetcher *Fetcher, store CandleStore, cache *market.CandleCache, logger zerolog.Logger) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		cache:   cache,
		logger:  logger.With().Str("component", "syncer").Logger(),
	}
}

// Sync claims the cursor, fetches everything newer than the stored history,
// upserts it, and releases the cursor with the outcome recorded. The newest
// stored candle is re-fetched since it may have been written mid-period; the
// upsert makes that harmless.
func (s *Syncer) Sync(ctx context.Context, symbol string, tf market.Timeframe, onProgress ProgressFunc) (*SyncResult, error) {
	if err := s.store.BeginSync(ctx, symbol, tf, database.SourceHyperliquid); err != nil {
		return nil, err
	}

	result, syncErr := s.run(ctx, symbol, tf, onProgress)

	var oldest, newest time.Time
	var stored int64
	if result != nil {
		oldest, newest = result.Oldest, result.Newest
		stored = int64(result.Stored)
	}
	if err := s.store.FinishSync(ctx, symbol, tf, database.SourceHyperliquid, oldest, newest, stored, syncErr); err != nil {
		s.logger.Error().Err(err).
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Msg("Failed to release sync cursor")
	}
	if syncErr != nil {
		return nil, syncErr
	}

	if s.cache != nil && result.Stored > 0 {
		s.cache.Invalidate(ctx, symbol, tf)
	}
	s.logger.Info().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("fetched", result.Fetched).
		Int("stored", result.Stored).
		Msg("Sync complete")
	return result, nil
}

func (s *Syncer) run(ctx context.Context, symbol string, tf market.Timeframe, onProgress ProgressFunc) (*SyncResult, error) {
	since, err := s.store.NewestCandleTime(ctx, symbol, tf, database.SourceHyperliquid)
	if err != nil {
		return nil, err
	}

	candles, err := s.fetcher.FetchAll(ctx, symbol, tf, since, time.Time{}, onProgress)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Symbol: symbol, Timeframe: tf, Fetched: len(candles)}
	if len(candles) == 0 {
		return result, nil
	}

	stored, err := s.store.UpsertCandles(ctx, candles, database.SourceHyperliquid)
	if err != nil {
		return nil, err
	}
	result.Stored = stored
	result.Oldest = candles[0].Timestamp
	result.Newest = candles[len(candles)-1].Timestamp
	return result, nil
}

// Backfill fetches a fixed historical range under the cursor, for seeding a
// fresh store before incremental syncs take over.
func (s *Syncer) Backfill(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time, onProgress ProgressFunc) (*SyncResult, error) {
	if err := s.store.BeginSync(ctx, symbol, tf, database.SourceHyperliquid); err != nil {
		return nil, err
	}

	result := &SyncResult{Symbol: symbol, Timeframe: tf}
	candles, syncErr := s.fetcher.FetchAll(ctx, symbol, tf, start, end, onProgress)
	if syncErr == nil && len(candles) > 0 {
		var stored int
		stored, syncErr = s.store.UpsertCandles(ctx, candles, database.SourceHyperliquid)
		if syncErr == nil {
			result.Fetched = len(candles)
			result.Stored = stored
			result.Oldest = candles[0].Timestamp
			result.Newest = candles[len(candles)-1].Timestamp
		}
	}

	if err := s.store.FinishSync(ctx, symbol, tf, database.SourceHyperliquid, result.Oldest, result.Newest, int64(result.Stored), syncErr); err != nil {
		s.logger.Error().Err(err).
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Msg("Failed to release sync cursor")
	}
	if syncErr != nil {
		return nil, syncErr
	}
	if s.cache != nil && result.Stored > 0 {
		s.cache.Invalidate(ctx, symbol, tf)
	}
	return result, nil
}

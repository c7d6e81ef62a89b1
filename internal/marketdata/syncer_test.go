package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/database"
	"hyperliquid-trading-bot/internal/market"
)

// memStore is an in-memory CandleStore with the same cursor semantics as the
// repository.
type memStore struct {
	candles   map[int64]market.Candle
	syncing   bool
	finishErr error
	finished  int
}

func newMemStore() *memStore {
	return &memStore{candles: make(map[int64]market.Candle)}
}

func (m *memStore) UpsertCandles(ctx context.Context, candles []market.Candle, source database.CandleSource) (int, error) {
	var stored int
	for _, c := range candles {
		key := c.Timestamp.UnixMilli()
		if _, ok := m.candles[key]; ok {
			continue
		}
		m.candles[key] = c
		stored++
	}
	return stored, nil
}

func (m *memStore) NewestCandleTime(ctx context.Context, symbol string, tf market.Timeframe, source database.CandleSource) (time.Time, error) {
	var newest time.Time
	for _, c := range m.candles {
		if c.Timestamp.After(newest) {
			newest = c.Timestamp
		}
	}
	return newest, nil
}

func (m *memStore) BeginSync(ctx context.Context, symbol string, tf market.Timeframe, source database.CandleSource) error {
	if m.syncing {
		return database.ErrAlreadySyncing
	}
	m.syncing = true
	return nil
}

func (m *memStore) FinishSync(ctx context.Context, symbol string, tf market.Timeframe, source database.CandleSource, oldest, newest time.Time, count int64, syncErr error) error {
	m.syncing = false
	m.finished++
	m.finishErr = syncErr
	return nil
}

func newTestSyncer(stub *stubExchange, store *memStore, now time.Time) *Syncer {
	f := NewFetcher(stub, zerolog.Nop())
	f.batchSize = 5
	f.now = func() time.Time { return now }
	return NewSyncer(f, store, nil, zerolog.Nop())
}

func TestSyncFreshStore(t *testing.T) {
	store := newMemStore()
	s := newTestSyncer(&stubExchange{candles: hourlyHistory(12)}, store, histBase.Add(11*time.Hour+30*time.Minute))

	result, err := s.Sync(context.Background(), "BTC", market.TF1h, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Fetched != 12 || result.Stored != 12 {
		t.Errorf("Expected 12 fetched and stored, got %+v", result)
	}
	if !result.Oldest.Equal(histBase) || !result.Newest.Equal(histBase.Add(11*time.Hour)) {
		t.Errorf("Result bounds wrong: %+v", result)
	}
	if store.syncing {
		t.Error("Cursor must be released after sync")
	}
	if store.finishErr != nil {
		t.Errorf("Unexpected recorded error: %v", store.finishErr)
	}
}

func TestSyncIncremental(t *testing.T) {
	store := newMemStore()
	history := hourlyHistory(12)
	if _, err := store.UpsertCandles(context.Background(), history[:10], database.SourceHyperliquid); err != nil {
		t.Fatal(err)
	}

	s := newTestSyncer(&stubExchange{candles: history}, store, histBase.Add(11*time.Hour+30*time.Minute))
	result, err := s.Sync(context.Background(), "BTC", market.TF1h, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// The newest stored candle (9h) is re-fetched; only 10h and 11h are new
	if result.Fetched != 3 {
		t.Errorf("Expected 3 fetched, got %d", result.Fetched)
	}
	if result.Stored != 2 {
		t.Errorf("Expected 2 stored, got %d", result.Stored)
	}
	if len(store.candles) != 12 {
		t.Errorf("Expected 12 candles in store, got %d", len(store.candles))
	}
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	store := newMemStore()
	store.syncing = true

	s := newTestSyncer(&stubExchange{candles: hourlyHistory(3)}, store, histBase.Add(3*time.Hour))
	if _, err := s.Sync(context.Background(), "BTC", market.TF1h, nil); !errors.Is(err, database.ErrAlreadySyncing) {
		t.Fatalf("Expected ErrAlreadySyncing, got %v", err)
	}
	if store.finished != 0 {
		t.Error("A rejected sync must not touch the cursor")
	}
}

func TestSyncReleasesCursorOnFailure(t *testing.T) {
	store := newMemStore()
	s := newTestSyncer(&stubExchange{candles: hourlyHistory(12), failOn: 1}, store, histBase.Add(11*time.Hour))

	if _, err := s.Sync(context.Background(), "BTC", market.TF1h, nil); err == nil {
		t.Fatal("Expected fetch error to propagate")
	}
	if store.syncing {
		t.Error("Cursor must be released after a failed sync")
	}
	if store.finishErr == nil {
		t.Error("The failure must be recorded on the cursor")
	}
}

func TestBackfillRange(t *testing.T) {
	store := newMemStore()
	s := newTestSyncer(&stubExchange{candles: hourlyHistory(12)}, store, histBase.Add(11*time.Hour))

	result, err := s.Backfill(context.Background(), "BTC", market.TF1h,
		histBase.Add(2*time.Hour), histBase.Add(8*time.Hour), nil)
	if err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	if result.Stored != 7 {
		t.Errorf("Expected candles 2h..8h stored, got %d", result.Stored)
	}
	if !result.Oldest.Equal(histBase.Add(2*time.Hour)) || !result.Newest.Equal(histBase.Add(8*time.Hour)) {
		t.Errorf("Backfill bounds wrong: %+v", result)
	}
	if store.syncing {
		t.Error("Cursor must be released after backfill")
	}
}

package database

import (
	"time"

	"github.com/google/uuid"
)

// CandleSource discriminates where a candle came from. Candles from different
// sources for the same (symbol, timeframe, timestamp) coexist.
type CandleSource string

const (
	SourceHyperliquid CandleSource = "hyperliquid"
	SourceCSV         CandleSource = "csv"
)

// SyncState is the per-(symbol, timeframe, source) sync cursor
type SyncState struct {
	ID          int64        `json:"id"`
	Symbol      string       `json:"symbol"`
	Timeframe   string       `json:"timeframe"`
	Source      CandleSource `json:"source"`
	LastSyncAt  *time.Time   `json:"last_sync_at,omitempty"`
	OldestTs    *time.Time   `json:"oldest_ts,omitempty"`
	NewestTs    *time.Time   `json:"newest_ts,omitempty"`
	CandleCount int64        `json:"candle_count"`
	IsSyncing   bool         `json:"is_syncing"`
	LastError   *string      `json:"last_error,omitempty"`
}

// TradeDecision captures the confluence evidence behind one signal, whether
// or not a trade was opened
type TradeDecision struct {
	ID              int64      `json:"id"`
	TradeID         *uuid.UUID `json:"trade_id,omitempty"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	ConfluenceScore float64    `json:"confluence_score"`
	Factors         []string   `json:"factors"`
	Warnings        []string   `json:"warnings"`
	Reasoning       string     `json:"reasoning,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

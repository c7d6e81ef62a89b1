package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"hyperliquid-trading-bot/internal/backtest"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/outcome"
	"hyperliquid-trading-bot/internal/signal"
)

var ErrAlreadySyncing = errors.New("sync already in progress")

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a repository over an open connection pool
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// CANDLES
// ============================================================================

// UpsertCandles bulk-inserts candles, silently skipping duplicates on
// (symbol, timeframe, timestamp, source). Returns the number inserted.
func (r *Repository) UpsertCandles(ctx context.Context, candles []market.Candle, source CandleSource) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO candles (symbol, timeframe, timestamp, source, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, timestamp, source) DO NOTHING
	`
	for _, c := range candles {
		batch.Queue(query, c.Symbol, string(c.Timeframe), c.Timestamp, string(source),
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range candles {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("upsert candles: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetCandles returns candles for one (symbol, timeframe, source) ordered by
// timestamp ascending
func (r *Repository) GetCandles(ctx context.Context, symbol string, tf market.Timeframe, source CandleSource, start, end time.Time) ([]market.Candle, error) {
	query := `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND source = $3
		  AND timestamp >= $4 AND timestamp <= $5
		ORDER BY timestamp
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, string(tf), string(source), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		var tfStr string
		if err := rows.Scan(&c.Symbol, &tfStr, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Timeframe = market.Timeframe(tfStr)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// NewestCandleTime returns the newest stored timestamp, or zero when none
func (r *Repository) NewestCandleTime(ctx context.Context, symbol string, tf market.Timeframe, source CandleSource) (time.Time, error) {
	var ts *time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT MAX(timestamp) FROM candles WHERE symbol = $1 AND timeframe = $2 AND source = $3`,
		symbol, string(tf), string(source)).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ============================================================================
// SYNC STATE
// ============================================================================

// BeginSync atomically claims the sync cursor for one key. A second claim
// while syncing fails with ErrAlreadySyncing.
func (r *Repository) BeginSync(ctx context.Context, symbol string, tf market.Timeframe, source CandleSource) error {
	query := `
		INSERT INTO sync_state (symbol, timeframe, source, is_syncing)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (symbol, timeframe, source)
		DO UPDATE SET is_syncing = TRUE WHERE sync_state.is_syncing = FALSE
		RETURNING id
	`
	var id int64
	err := r.db.Pool.QueryRow(ctx, query, symbol, string(tf), string(source)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadySyncing
	}
	return err
}

// FinishSync releases the cursor and records the outcome
func (r *Repository) FinishSync(ctx context.Context, symbol string, tf market.Timeframe, source CandleSource, oldest, newest time.Time, count int64, syncErr error) error {
	var lastError *string
	if syncErr != nil {
		msg := syncErr.Error()
		lastError = &msg
	}
	var oldestArg, newestArg *time.Time
	if !oldest.IsZero() {
		oldestArg = &oldest
	}
	if !newest.IsZero() {
		newestArg = &newest
	}
	// LEAST/GREATEST ignore NULL arguments, so an empty sync leaves the
	// recorded bounds untouched.
	query := `
		UPDATE sync_state
		SET is_syncing = FALSE,
		    last_sync_at = NOW(),
		    oldest_ts = LEAST(oldest_ts, $4),
		    newest_ts = GREATEST(newest_ts, $5),
		    candle_count = candle_count + $6,
		    last_error = $7
		WHERE symbol = $1 AND timeframe = $2 AND source = $3
	`
	_, err := r.db.Pool.Exec(ctx, query, symbol, string(tf), string(source), oldestArg, newestArg, count, lastError)
	return err
}

// GetSyncState returns the cursor for one key, or nil when absent
func (r *Repository) GetSyncState(ctx context.Context, symbol string, tf market.Timeframe, source CandleSource) (*SyncState, error) {
	query := `
		SELECT id, symbol, timeframe, source, last_sync_at, oldest_ts, newest_ts,
		       candle_count, is_syncing, last_error
		FROM sync_state
		WHERE symbol = $1 AND timeframe = $2 AND source = $3
	`
	state := &SyncState{}
	err := r.db.Pool.QueryRow(ctx, query, symbol, string(tf), string(source)).Scan(
		&state.ID, &state.Symbol, &state.Timeframe, &state.Source,
		&state.LastSyncAt, &state.OldestTs, &state.NewestTs,
		&state.CandleCount, &state.IsSyncing, &state.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ============================================================================
// STRATEGY RULES
// ============================================================================

// SaveStrategyRule inserts or replaces one rule
func (r *Repository) SaveStrategyRule(ctx context.Context, rule *signal.StrategyRule) error {
	timeframes, err := json.Marshal(rule.Timeframes)
	if err != nil {
		return err
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	confluence, err := json.Marshal(rule.ConfluenceRequired)
	if err != nil {
		return err
	}
	riskParams, err := json.Marshal(rule.RiskParams)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO strategy_rules (id, name, entry_type, timeframes, conditions, confluence_required,
		                            risk_params, confidence, trade_count, win_rate, avg_r_multiple, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			entry_type = EXCLUDED.entry_type,
			timeframes = EXCLUDED.timeframes,
			conditions = EXCLUDED.conditions,
			confluence_required = EXCLUDED.confluence_required,
			risk_params = EXCLUDED.risk_params,
			confidence = EXCLUDED.confidence,
			trade_count = EXCLUDED.trade_count,
			win_rate = EXCLUDED.win_rate,
			avg_r_multiple = EXCLUDED.avg_r_multiple,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`
	_, err = r.db.Pool.Exec(ctx, query,
		rule.ID, rule.Name, string(rule.EntryType), timeframes, conditions, confluence,
		riskParams, rule.Confidence, rule.TradeCount, rule.WinRate, rule.AvgRMultiple, rule.Enabled)
	return err
}

// ListStrategyRules returns all rules, enabled first
func (r *Repository) ListStrategyRules(ctx context.Context) ([]*signal.StrategyRule, error) {
	query := `
		SELECT id, name, entry_type, timeframes, conditions, confluence_required,
		       risk_params, confidence, trade_count, win_rate, avg_r_multiple, enabled
		FROM strategy_rules
		ORDER BY enabled DESC, name
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*signal.StrategyRule
	for rows.Next() {
		rule := &signal.StrategyRule{}
		var entryType string
		var timeframes, conditions, confluence, riskParams []byte
		if err := rows.Scan(&rule.ID, &rule.Name, &entryType, &timeframes, &conditions,
			&confluence, &riskParams, &rule.Confidence, &rule.TradeCount,
			&rule.WinRate, &rule.AvgRMultiple, &rule.Enabled); err != nil {
			return nil, err
		}
		rule.EntryType = signal.SetupType(entryType)
		if err := json.Unmarshal(timeframes, &rule.Timeframes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(confluence, &rule.ConfluenceRequired); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(riskParams, &rule.RiskParams); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ============================================================================
// TRADES & DECISIONS
// ============================================================================

// SaveTrade persists one terminal or open trade
func (r *Repository) SaveTrade(ctx context.Context, trade *backtest.Trade) error {
	tpLevels, err := json.Marshal(trade.TPLevels)
	if err != nil {
		return err
	}
	partials, err := json.Marshal(trade.PartialExits)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trades (id, strategy_rule_id, symbol, side, entry_price, entry_time, quantity,
		                    stop, tp_levels, status, exit_price, exit_time, exit_reason,
		                    realized_pnl, r_multiple, reasoning, partial_exits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			stop = EXCLUDED.stop,
			status = EXCLUDED.status,
			exit_price = EXCLUDED.exit_price,
			exit_time = EXCLUDED.exit_time,
			exit_reason = EXCLUDED.exit_reason,
			realized_pnl = EXCLUDED.realized_pnl,
			r_multiple = EXCLUDED.r_multiple,
			partial_exits = EXCLUDED.partial_exits
	`
	_, err = r.db.Pool.Exec(ctx, query,
		trade.ID, trade.StrategyRuleID, trade.Symbol, string(trade.Side),
		trade.EntryPrice, trade.EntryTime, trade.Quantity, trade.Stop, tpLevels,
		string(trade.Status), trade.ExitPrice, trade.ExitTime, trade.ExitReason,
		trade.RealizedPnL, trade.RMultiple, trade.Reasoning, partials)
	return err
}

// SaveTradeDecision records the confluence evidence behind one signal
func (r *Repository) SaveTradeDecision(ctx context.Context, d *TradeDecision) error {
	factors, err := json.Marshal(d.Factors)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(d.Warnings)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO trade_decisions (trade_id, symbol, side, confluence_score, factors, warnings, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		d.TradeID, d.Symbol, d.Side, d.ConfluenceScore, factors, warnings, d.Reasoning).
		Scan(&d.ID, &d.CreatedAt)
}

// ============================================================================
// LEARNING JOURNAL
// ============================================================================

// SaveInsight persists one learning insight
func (r *Repository) SaveInsight(ctx context.Context, ins *outcome.LearningInsight) error {
	query := `
		INSERT INTO learning_journal (id, pattern, sample_size, win_rate, baseline_win_rate,
		                              delta, confidence, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			sample_size = EXCLUDED.sample_size,
			win_rate = EXCLUDED.win_rate,
			baseline_win_rate = EXCLUDED.baseline_win_rate,
			delta = EXCLUDED.delta,
			confidence = EXCLUDED.confidence,
			active = EXCLUDED.active
	`
	_, err := r.db.Pool.Exec(ctx, query,
		ins.ID, string(ins.Pattern), ins.SampleSize, ins.WinRate, ins.BaselineWinRate,
		ins.Delta, ins.Confidence, ins.Active, ins.CreatedAt)
	return err
}

// DeactivateInsights flips off journal entries below the confidence floor and
// returns how many were affected
func (r *Repository) DeactivateInsights(ctx context.Context, floor float64) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE learning_journal SET active = FALSE WHERE active AND confidence < $1`, floor)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// ANALYSIS SNAPSHOTS
// ============================================================================

// SaveZones replaces the stored zones for one (symbol, timeframe)
func (r *Repository) SaveZones(ctx context.Context, symbol string, tf market.Timeframe, zoneRows []ZoneRow) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM zones WHERE symbol = $1 AND timeframe = $2`, symbol, string(tf)); err != nil {
		return err
	}
	for _, z := range zoneRows {
		_, err := tx.Exec(ctx, `
			INSERT INTO zones (symbol, timeframe, zone_type, top, bottom, strength, strength_score,
			                   touches, bounces, first_touch, last_touch, broken)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			symbol, string(tf), z.Type, z.Top, z.Bottom, z.Strength, z.StrengthScore,
			z.Touches, z.Bounces, z.FirstTouch, z.LastTouch, z.Broken)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SaveMarketStructure appends one structure snapshot
func (r *Repository) SaveMarketStructure(ctx context.Context, symbol string, tf market.Timeframe, analyzedAt time.Time, trend string, swings, breaks, orderBlocks, fvgs interface{}) error {
	swingsJSON, err := json.Marshal(swings)
	if err != nil {
		return err
	}
	breaksJSON, err := json.Marshal(breaks)
	if err != nil {
		return err
	}
	obJSON, err := json.Marshal(orderBlocks)
	if err != nil {
		return err
	}
	fvgJSON, err := json.Marshal(fvgs)
	if err != nil {
		return err
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO market_structure (symbol, timeframe, analyzed_at, trend, swings, breaks, order_blocks, fair_value_gaps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		symbol, string(tf), analyzedAt, trend, swingsJSON, breaksJSON, obJSON, fvgJSON)
	return err
}

// ZoneRow is the persisted form of a detected zone
type ZoneRow struct {
	Type          string     `json:"zone_type"`
	Top           float64    `json:"top"`
	Bottom        float64    `json:"bottom"`
	Strength      string     `json:"strength"`
	StrengthScore float64    `json:"strength_score"`
	Touches       int        `json:"touches"`
	Bounces       int        `json:"bounces"`
	FirstTouch    *time.Time `json:"first_touch,omitempty"`
	LastTouch     *time.Time `json:"last_touch,omitempty"`
	Broken        bool       `json:"broken"`
}

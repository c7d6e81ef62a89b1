package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database connection settings
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB opens a connection pool and verifies connectivity
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")
	return &DB{Pool: pool, logger: log}, nil
}

// Close shuts down the connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			source VARCHAR(20) NOT NULL,
			open DECIMAL(20, 8) NOT NULL CHECK (open > 0),
			high DECIMAL(20, 8) NOT NULL CHECK (high > 0),
			low DECIMAL(20, 8) NOT NULL CHECK (low > 0),
			close DECIMAL(20, 8) NOT NULL CHECK (close > 0),
			volume DECIMAL(30, 8) NOT NULL CHECK (volume >= 0),
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CHECK (high >= low),
			CHECK (high >= open AND high >= close),
			CHECK (low <= open AND low <= close),
			UNIQUE (symbol, timeframe, timestamp, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_lookup
			ON candles(symbol, timeframe, source, timestamp)`,

		`CREATE TABLE IF NOT EXISTS sync_state (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			source VARCHAR(20) NOT NULL,
			last_sync_at TIMESTAMPTZ,
			oldest_ts TIMESTAMPTZ,
			newest_ts TIMESTAMPTZ,
			candle_count BIGINT DEFAULT 0,
			is_syncing BOOLEAN DEFAULT FALSE,
			last_error TEXT,
			UNIQUE (symbol, timeframe, source)
		)`,

		`CREATE TABLE IF NOT EXISTS strategy_rules (
			id UUID PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			entry_type VARCHAR(20) NOT NULL,
			timeframes JSONB NOT NULL DEFAULT '[]',
			conditions JSONB NOT NULL DEFAULT '[]',
			confluence_required JSONB NOT NULL DEFAULT '[]',
			risk_params JSONB NOT NULL DEFAULT '{}',
			confidence DECIMAL(5, 4) NOT NULL DEFAULT 0.5,
			trade_count INT NOT NULL DEFAULT 0,
			win_rate DECIMAL(5, 4),
			avg_r_multiple DECIMAL(10, 4),
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			strategy_rule_id UUID REFERENCES strategy_rules(id),
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			quantity DECIMAL(30, 8) NOT NULL,
			stop DECIMAL(20, 8),
			tp_levels JSONB NOT NULL DEFAULT '[]',
			status VARCHAR(20) NOT NULL,
			exit_price DECIMAL(20, 8),
			exit_time TIMESTAMPTZ,
			exit_reason VARCHAR(40),
			realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			r_multiple DECIMAL(10, 4) NOT NULL DEFAULT 0,
			reasoning TEXT,
			partial_exits JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,

		`CREATE TABLE IF NOT EXISTS trade_decisions (
			id BIGSERIAL PRIMARY KEY,
			trade_id UUID REFERENCES trades(id),
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			confluence_score DECIMAL(5, 4) NOT NULL,
			factors JSONB NOT NULL DEFAULT '[]',
			warnings JSONB NOT NULL DEFAULT '[]',
			reasoning TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS learning_journal (
			id UUID PRIMARY KEY,
			pattern VARCHAR(40) NOT NULL,
			sample_size INT NOT NULL,
			win_rate DECIMAL(5, 4) NOT NULL,
			baseline_win_rate DECIMAL(5, 4) NOT NULL,
			delta DECIMAL(6, 4) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS zones (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			zone_type VARCHAR(12) NOT NULL,
			top DECIMAL(20, 8) NOT NULL,
			bottom DECIMAL(20, 8) NOT NULL,
			strength VARCHAR(12) NOT NULL,
			strength_score DECIMAL(5, 4) NOT NULL,
			touches INT NOT NULL,
			bounces INT NOT NULL,
			first_touch TIMESTAMPTZ,
			last_touch TIMESTAMPTZ,
			broken BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zones_symbol_tf ON zones(symbol, timeframe)`,

		`CREATE TABLE IF NOT EXISTS market_structure (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			analyzed_at TIMESTAMPTZ NOT NULL,
			trend VARCHAR(10) NOT NULL,
			swings JSONB NOT NULL DEFAULT '[]',
			breaks JSONB NOT NULL DEFAULT '[]',
			order_blocks JSONB NOT NULL DEFAULT '[]',
			fair_value_gaps JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_structure_lookup
			ON market_structure(symbol, timeframe, analyzed_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.logger.Info().Int("statements", len(migrations)).Msg("Migrations complete")
	return nil
}

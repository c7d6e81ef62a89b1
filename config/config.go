package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full configuration surface of the core
type Config struct {
	Exchange   ExchangeConfig   `json:"exchange"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Risk       RiskConfig       `json:"risk"`
	RateLimit  RateLimitConfig  `json:"ratelim"`
	Backtest   BacktestConfig   `json:"backtest"`
	Signal     SignalConfig     `json:"signal"`
	Confluence ConfluenceConfig `json:"confluence"`
	Detector   DetectorConfig   `json:"detector"`
	Logging    LoggingConfig    `json:"logging"`
}

// ExchangeConfig holds exchange client parameters
type ExchangeConfig struct {
	BaseURL        string        `json:"base_url"`
	WebsocketURL   string        `json:"websocket_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RiskConfig holds pre-trade check limits and circuit breaker settings
type RiskConfig struct {
	MaxOrderNotional       float64       `json:"max_order_notional"`
	MaxPositionSizeUSD     float64       `json:"max_position_size_usd"`
	MaxPositionSizePercent float64       `json:"max_position_size_percent"`
	MaxTotalExposure       float64       `json:"max_total_exposure"`
	MaxExposurePercent     float64       `json:"max_exposure_percent"`
	MaxPositions           int           `json:"max_positions"`
	MaxOpenOrders          int           `json:"max_open_orders"`
	MaxDailyLoss           float64       `json:"max_daily_loss"`
	MaxDailyLossPercent    float64       `json:"max_daily_loss_percent"`
	MaxConsecutiveLosses   int           `json:"max_consecutive_losses"`
	MaxConsecutiveErrors   int           `json:"max_consecutive_errors"`
	MaxPriceDeviation      float64       `json:"max_price_deviation"`
	CircuitBreakerCooldown time.Duration `json:"circuit_breaker_cooldown"`
}

// RateLimitConfig holds sliding-window limiter parameters
type RateLimitConfig struct {
	MaxRequests     int           `json:"max_requests"`
	Window          time.Duration `json:"window"`
	HeadroomPercent float64       `json:"headroom_percent"`
}

// BacktestConfig holds backtest engine parameters
type BacktestConfig struct {
	InitialCapital      float64 `json:"initial_capital"`
	PositionSizePercent float64 `json:"position_size_percent"`
	MaxOpenTrades       int     `json:"max_open_trades"`
	CommissionPercent   float64 `json:"commission_percent"`
	SlippagePercent     float64 `json:"slippage_percent"`
	PartialExitEnabled  bool    `json:"partial_exit_enabled"`
	TP1ExitPercent      float64 `json:"tp1_exit_percent"`
	TP2ExitPercent      float64 `json:"tp2_exit_percent"`
	TrailingStopPercent float64 `json:"trailing_stop_percent"`
	EmitInterval        int     `json:"emit_interval"`
}

// SignalConfig holds signal generation thresholds
type SignalConfig struct {
	MinConfluenceScore     float64 `json:"min_confluence_score"`
	MinPatternScore        float64 `json:"min_pattern_score"`
	MinAgreementPercentage float64 `json:"min_agreement_percentage"`
	MinRiskReward          float64 `json:"min_risk_reward"`
	MaxStopLossPercent     float64 `json:"max_stop_loss_percent"`
	UseATRStops            bool    `json:"use_atr_stops"`
	ATRPeriod              int     `json:"atr_period"`
	ATRMultiplier          float64 `json:"atr_multiplier"`
	RequireHigherTFAlign   bool    `json:"require_higher_tf_alignment"`
	AllowZoneCrossing      bool    `json:"allow_zone_crossing"`
}

// ConfluenceConfig holds scorer weights
type ConfluenceConfig struct {
	PatternWeight   float64 `json:"pattern_weight"`
	StructureWeight float64 `json:"structure_weight"`
	CycleWeight     float64 `json:"cycle_weight"`
	TimeframeWeight float64 `json:"timeframe_weight"`
	ZoneWeight      float64 `json:"zone_weight"`
}

// DetectorConfig holds structure/zone/pattern detector parameters
type DetectorConfig struct {
	Lookback            int     `json:"lookback"`
	MinSwingBodyPct     float64 `json:"min_swing_body_pct"`
	MinGapSize          float64 `json:"min_gap_size"`
	MinVolumePercentile float64 `json:"min_volume_percentile"`
	MinMoveSize         float64 `json:"min_move_size"`
	ZoneMergeThreshold  float64 `json:"zone_merge_threshold"`
	MinTouches          int     `json:"min_touches"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

// DefaultConfig returns the configuration defaults
func DefaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			BaseURL:        "https://api.hyperliquid.xyz",
			WebsocketURL:   "wss://api.hyperliquid.xyz/ws",
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "trader",
			Database: "hypertrader",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Risk: RiskConfig{
			MaxOrderNotional:       10000,
			MaxPositionSizeUSD:     25000,
			MaxPositionSizePercent: 0.25,
			MaxTotalExposure:       50000,
			MaxExposurePercent:     0.50,
			MaxPositions:           5,
			MaxOpenOrders:          20,
			MaxDailyLoss:           1000,
			MaxDailyLossPercent:    0.05,
			MaxConsecutiveLosses:   3,
			MaxConsecutiveErrors:   5,
			MaxPriceDeviation:      0.05,
			CircuitBreakerCooldown: 30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:     100,
			Window:          time.Minute,
			HeadroomPercent: 0.30,
		},
		Backtest: BacktestConfig{
			InitialCapital:      10000,
			PositionSizePercent: 0.01,
			MaxOpenTrades:       3,
			CommissionPercent:   0.0005,
			SlippagePercent:     0.0002,
			PartialExitEnabled:  true,
			TP1ExitPercent:      0.5,
			TP2ExitPercent:      0.3,
			EmitInterval:        100,
		},
		Signal: SignalConfig{
			MinConfluenceScore:     0.65,
			MinPatternScore:        0.50,
			MinAgreementPercentage: 0.60,
			MinRiskReward:          2.0,
			MaxStopLossPercent:     0.05,
			UseATRStops:            true,
			ATRPeriod:              14,
			ATRMultiplier:          2.0,
			RequireHigherTFAlign:   false,
			AllowZoneCrossing:      false,
		},
		Confluence: ConfluenceConfig{
			PatternWeight:   0.30,
			StructureWeight: 0.25,
			CycleWeight:     0.15,
			TimeframeWeight: 0.20,
			ZoneWeight:      0.10,
		},
		Detector: DetectorConfig{
			Lookback:            5,
			MinSwingBodyPct:     0.3,
			MinGapSize:          0.002,
			MinVolumePercentile: 0.5,
			MinMoveSize:         0.01,
			ZoneMergeThreshold:  0.01,
			MinTouches:          2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a JSON file, applies environment overrides,
// and fills missing values from defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	w := c.Confluence
	total := w.PatternWeight + w.StructureWeight + w.CycleWeight + w.TimeframeWeight + w.ZoneWeight
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("confluence weights must sum to 1.0, got %.2f", total)
	}
	if c.RateLimit.HeadroomPercent < 0 || c.RateLimit.HeadroomPercent >= 1 {
		return fmt.Errorf("ratelim headroom_percent must be in [0, 1), got %.2f", c.RateLimit.HeadroomPercent)
	}
	if c.Backtest.TP1ExitPercent < 0 || c.Backtest.TP1ExitPercent > 1 {
		return fmt.Errorf("backtest tp1_exit_percent must be in [0, 1], got %.2f", c.Backtest.TP1ExitPercent)
	}
	if c.Signal.MinRiskReward <= 0 {
		return fmt.Errorf("signal min_risk_reward must be positive, got %.2f", c.Signal.MinRiskReward)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides for deploy-time
// settings; analytical thresholds stay file-driven.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("EXCHANGE_WS_URL"); v != "" {
		cfg.Exchange.WebsocketURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

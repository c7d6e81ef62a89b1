package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/config"
	"hyperliquid-trading-bot/internal/database"
	"hyperliquid-trading-bot/internal/events"
	"hyperliquid-trading-bot/internal/hyperliquid"
	"hyperliquid-trading-bot/internal/logging"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/marketdata"
	"hyperliquid-trading-bot/internal/order"
	"hyperliquid-trading-bot/internal/position"
	"hyperliquid-trading-bot/internal/risk"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to JSON config file")
		symbolsFlag  = flag.String("symbols", "BTC", "comma-separated symbols to sync")
		tfFlag       = flag.String("timeframes", "1h,4h", "comma-separated timeframes to sync")
		syncInterval = flag.Duration("sync-interval", 5*time.Minute, "interval between incremental syncs")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
	})
	logger.Info().Msg("Structured logging initialized")

	// Initialize event bus
	bus := events.NewBus()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	repo := database.NewRepository(db)

	// Initialize candle cache
	var cache *market.CandleCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, candle cache disabled")
		} else {
			cache = market.NewCandleCache(rdb, logger)
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Candle cache initialized")
		}
	}

	// Initialize exchange client
	limiter := hyperliquid.NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, cfg.RateLimit.HeadroomPercent)
	audit := hyperliquid.NewMemoryAuditSink()
	client := hyperliquid.NewClient(hyperliquid.ClientConfig{
		BaseURL:        cfg.Exchange.BaseURL,
		WebsocketURL:   cfg.Exchange.WebsocketURL,
		APIKey:         os.Getenv("EXCHANGE_API_KEY"),
		APISecret:      os.Getenv("EXCHANGE_API_SECRET"),
		RequestTimeout: cfg.Exchange.RequestTimeout,
		MaxRetries:     cfg.Exchange.MaxRetries,
		RetryBaseDelay: cfg.Exchange.RetryBaseDelay,
	}, limiter, audit, logger)

	// Initialize position tracking, risk checks and order management
	tracker := position.NewTracker(logger)

	balance := func() float64 {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		state, err := client.GetAccountBalance(reqCtx)
		if err != nil {
			logger.Warn().Err(err).Msg("Balance lookup failed")
			return 0
		}
		return state.Equity
	}
	marketPrice := func(symbol string) (float64, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.GetMarketPrice(reqCtx, symbol)
	}

	var orderManager *order.Manager
	riskManager := risk.NewManager(risk.Limits{
		MaxOrderNotional:       cfg.Risk.MaxOrderNotional,
		MaxPositionSizeUSD:     cfg.Risk.MaxPositionSizeUSD,
		MaxPositionSizePercent: cfg.Risk.MaxPositionSizePercent,
		MaxTotalExposure:       cfg.Risk.MaxTotalExposure,
		MaxExposurePercent:     cfg.Risk.MaxExposurePercent,
		MaxPositions:           cfg.Risk.MaxPositions,
		MaxOpenOrders:          cfg.Risk.MaxOpenOrders,
		MaxDailyLoss:           cfg.Risk.MaxDailyLoss,
		MaxDailyLossPercent:    cfg.Risk.MaxDailyLossPercent,
		MaxConsecutiveLosses:   cfg.Risk.MaxConsecutiveLosses,
		MaxConsecutiveErrors:   cfg.Risk.MaxConsecutiveErrors,
		MaxPriceDeviation:      cfg.Risk.MaxPriceDeviation,
		CircuitBreakerCooldown: cfg.Risk.CircuitBreakerCooldown,
	}, tracker, balance, func() int { return orderManager.OpenOrderCount() }, marketPrice, logger)
	orderManager = order.NewManager(riskManager, client, tracker, audit, logger)

	// Deliver exchange fills and order updates to the order manager
	sub, err := client.SubscribeUserEvents(ctx, func(ev hyperliquid.UserEvent) {
		handleUserEvent(ev, orderManager, bus, logger)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("User event stream unavailable, running without live fills")
	} else {
		defer sub.Close()
	}

	// Start one incremental sync loop per (symbol, timeframe)
	syncer := marketdata.NewSyncer(marketdata.NewFetcher(client, logger), repo, cache, logger)
	for _, symbol := range splitList(*symbolsFlag) {
		for _, raw := range splitList(*tfFlag) {
			tf, err := market.ParseTimeframe(raw)
			if err != nil {
				logger.Fatal().Err(err).Msg("Invalid timeframe flag")
			}
			go syncLoop(ctx, syncer, bus, symbol, tf, *syncInterval, logger)
		}
	}

	logger.Info().
		Str("symbols", *symbolsFlag).
		Str("timeframes", *tfFlag).
		Msg("Trading core started")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orderManager.CancelAllOrders(shutdownCtx, "shutdown"); err != nil {
		logger.Error().Err(err).Msg("Failed to cancel open orders on shutdown")
	}
}

// syncLoop runs an immediate sync and then one per interval until cancelled.
// Loops for different keys are independent; they share the rate limiter
// through the client.
func syncLoop(ctx context.Context, syncer *marketdata.Syncer, bus *events.Bus, symbol string, tf market.Timeframe, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := syncer.Sync(ctx, symbol, tf, func(p marketdata.Progress) {
			bus.Publish(events.EventSyncProgress, p)
		})
		if err != nil {
			logger.Error().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("Sync failed")
		} else if result.Stored > 0 {
			logger.Info().Str("symbol", symbol).Str("timeframe", string(tf)).Int("stored", result.Stored).Msg("Candles synced")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type wsFill struct {
	OrderID string `json:"oid"`
	Price   string `json:"px"`
	Size    string `json:"sz"`
	Fee     string `json:"fee"`
	Time    int64  `json:"time"`
}

// handleUserEvent routes websocket messages into the order manager
func handleUserEvent(ev hyperliquid.UserEvent, orderManager *order.Manager, bus *events.Bus, logger zerolog.Logger) {
	switch ev.Channel {
	case "userFills":
		var payload struct {
			Fills []wsFill `json:"fills"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			logger.Warn().Err(err).Msg("Cannot decode fill event")
			return
		}
		for _, f := range payload.Fills {
			price, _ := strconv.ParseFloat(f.Price, 64)
			size, _ := strconv.ParseFloat(f.Size, 64)
			fee, _ := strconv.ParseFloat(f.Fee, 64)
			if err := orderManager.ProcessFill(f.OrderID, size, price, fee, time.UnixMilli(f.Time).UTC()); err != nil {
				logger.Warn().Err(err).Str("order_id", f.OrderID).Msg("Unmatched fill")
			}
			bus.Publish(events.EventOrderUpdate, f)
		}
	case "orderUpdates":
		var updates []struct {
			OrderID string                  `json:"oid"`
			Status  hyperliquid.OrderStatus `json:"status"`
		}
		if err := json.Unmarshal(ev.Data, &updates); err != nil {
			logger.Warn().Err(err).Msg("Cannot decode order update")
			return
		}
		for _, u := range updates {
			if err := orderManager.UpdateOrderStatus(u.OrderID, u.Status); err != nil {
				logger.Debug().Err(err).Str("order_id", u.OrderID).Msg("Order update for unknown order")
			}
			bus.Publish(events.EventOrderUpdate, u)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"hyperliquid-trading-bot/config"
	"hyperliquid-trading-bot/internal/backtest"
	"hyperliquid-trading-bot/internal/confluence"
	"hyperliquid-trading-bot/internal/cycle"
	"hyperliquid-trading-bot/internal/database"
	"hyperliquid-trading-bot/internal/logging"
	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/outcome"
	"hyperliquid-trading-bot/internal/signal"
	"hyperliquid-trading-bot/internal/structure"
	"hyperliquid-trading-bot/internal/zones"
)

// analysisWindow is how many trailing candles feed each per-candle analysis
const analysisWindow = 120

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		symbol     = flag.String("symbol", "BTC", "symbol to backtest")
		tfRaw      = flag.String("timeframe", "1h", "entry timeframe")
		sourceRaw  = flag.String("source", "hyperliquid", "candle source: hyperliquid or csv")
		startRaw   = flag.String("start", "", "range start (RFC3339 or YYYY-MM-DD)")
		endRaw     = flag.String("end", "", "range end (RFC3339 or YYYY-MM-DD)")
		save       = flag.Bool("save", false, "persist trades and insights to the database")
	)
	flag.Parse()

	tf, err := market.ParseTimeframe(*tfRaw)
	if err != nil {
		fatal("Invalid timeframe: %v", err)
	}
	start, end, err := parseRange(*startRaw, *endRaw)
	if err != nil {
		fatal("Invalid range: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Failed to load configuration: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		JSONFormat: cfg.Logging.JSONFormat,
	})

	ctx := context.Background()
	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	candles, err := repo.GetCandles(ctx, *symbol, tf, database.CandleSource(*sourceRaw), start, end)
	if err != nil {
		fatal("Failed to load candles: %v", err)
	}
	if len(candles) <= analysisWindow {
		fatal("Not enough candles: have %d, need more than %d", len(candles), analysisWindow)
	}

	ruleRefs, err := repo.ListStrategyRules(ctx)
	if err != nil {
		fatal("Failed to load strategy rules: %v", err)
	}
	rules := make([]signal.StrategyRule, 0, len(ruleRefs))
	for _, r := range ruleRefs {
		rules = append(rules, *r)
	}

	// Per-candle analysis pipeline: context -> confluence -> signal
	builder := confluence.NewContextBuilder(
		structure.Config{
			Lookback:            cfg.Detector.Lookback,
			MinSwingBodyPct:     cfg.Detector.MinSwingBodyPct,
			MinMoveSize:         cfg.Detector.MinMoveSize,
			MinGapSize:          cfg.Detector.MinGapSize,
			MinVolumePercentile: cfg.Detector.MinVolumePercentile,
		},
		zoneConfig(cfg),
		cycle.DefaultConfig(),
	)
	scorer := confluence.NewScorer(confluence.Config{
		Weights: confluence.Weights{
			Pattern:   cfg.Confluence.PatternWeight,
			Structure: cfg.Confluence.StructureWeight,
			Cycle:     cfg.Confluence.CycleWeight,
			Timeframe: cfg.Confluence.TimeframeWeight,
			Zone:      cfg.Confluence.ZoneWeight,
		},
		MinTotal:   cfg.Signal.MinConfluenceScore,
		MinPattern: cfg.Signal.MinPatternScore,
	})
	generator := signal.NewGenerator(signal.Config{
		ATRPeriod:         cfg.Signal.ATRPeriod,
		ATRMultiplier:     cfg.Signal.ATRMultiplier,
		MaxSLPct:          cfg.Signal.MaxStopLossPercent,
		MinRR:             cfg.Signal.MinRiskReward,
		SwingLookback:     cfg.Detector.Lookback,
		AllowZoneCrossing: cfg.Signal.AllowZoneCrossing,
	}, rules, nil, logger)

	generate := func(i int, _ market.Candle) *signal.Signal {
		if i+1 < analysisWindow {
			return nil
		}
		built := builder.Build(tf, candles[i+1-analysisWindow:i+1])
		score := scorer.Score([]confluence.TimeframeContext{built.Context}, tf)
		sig, err := generator.Generate(ctx, score, &built.Context, built.Zones, *symbol)
		if err != nil {
			return nil
		}
		return sig
	}

	engine := backtest.NewEngine(cfg.Backtest, logger)
	state, err := engine.Run(ctx, candles, generate, func(s backtest.State) {
		fmt.Printf("\r... %5.1f%%  trades=%d  equity=%.2f", s.ProgressPercent, len(s.ClosedTrades), s.CurrentCapital)
	})
	if err != nil {
		fatal("Backtest failed: %v", err)
	}
	fmt.Println()

	printMetrics(*symbol, tf, state)

	analyzer := outcome.NewAnalyzer(nil, logger)
	insights := reviewTrades(ctx, analyzer, state)

	if *save {
		for i := range state.ClosedTrades {
			if err := repo.SaveTrade(ctx, &state.ClosedTrades[i]); err != nil {
				logger.Error().Err(err).Msg("Failed to save trade")
			}
		}
		for i := range insights {
			if err := repo.SaveInsight(ctx, &insights[i]); err != nil {
				logger.Error().Err(err).Msg("Failed to save insight")
			}
		}
		fmt.Printf("Saved %d trades and %d insights\n", len(state.ClosedTrades), len(insights))
	}
}

// reviewTrades runs the outcome analyzer over every closed trade and
// aggregates pattern insights. Signals and trades are paired by entry order.
func reviewTrades(ctx context.Context, analyzer *outcome.Analyzer, state *backtest.State) []outcome.LearningInsight {
	byEntry := make([]backtest.Trade, len(state.ClosedTrades))
	copy(byEntry, state.ClosedTrades)
	sort.Slice(byEntry, func(i, j int) bool { return byEntry[i].EntryTime.Before(byEntry[j].EntryTime) })

	var contexts []outcome.TradeContext
	var invalid int
	for i := range byEntry {
		trade := &byEntry[i]
		analysis := analyzer.AnalyzeTrade(ctx, trade, nil)
		if analysis.SetupValidity == outcome.SetupInvalid {
			invalid++
		}
		tc := outcome.TradeContext{Win: trade.RealizedPnL > 0}
		if i < len(state.Signals) {
			tc.Patterns = state.Signals[i].Patterns
		}
		contexts = append(contexts, tc)
	}

	insights := outcome.AggregateInsights(contexts, outcome.DefaultInsightConfig(), time.Now().UTC())
	if len(insights) > 0 {
		fmt.Println("\nPattern insights:")
		for _, ins := range insights {
			fmt.Printf("  %-22s n=%-3d win %.0f%% (baseline %.0f%%, delta %+.2f, conf %.2f)\n",
				ins.Pattern, ins.SampleSize, 100*ins.WinRate, 100*ins.BaselineWinRate, ins.Delta, ins.Confidence)
		}
	}
	if invalid > 0 {
		fmt.Printf("Invalid setups: %d (stop overshoots past -1.2R)\n", invalid)
	}
	return insights
}

func printMetrics(symbol string, tf market.Timeframe, state *backtest.State) {
	m := state.Metrics
	fmt.Println("================================================================")
	fmt.Printf("BACKTEST  %s %s  (%d candles, %d trades)\n", symbol, tf, state.CurrentCandleIndex+1, m.TotalTrades)
	fmt.Println("================================================================")
	fmt.Printf("Net PnL:        %.2f (%.2f%%)\n", m.TotalPnL, m.TotalReturnPercent)
	fmt.Printf("Win rate:       %.1f%% (%d/%d)\n", 100*m.WinRate, m.WinningTrades, m.TotalTrades)
	if math.IsInf(m.ProfitFactor, 1) {
		fmt.Println("Profit factor:  inf")
	} else {
		fmt.Printf("Profit factor:  %.2f\n", m.ProfitFactor)
	}
	fmt.Printf("Expectancy:     %.2f\n", m.Expectancy)
	fmt.Printf("Avg R / med R:  %.2f / %.2f\n", m.AvgR, m.MedianR)
	fmt.Printf("Max drawdown:   %.2f (%.2f%%)\n", m.MaxDrawdown, 100*m.MaxDrawdownPercent)
	fmt.Printf("Sharpe/Sortino: %.2f / %.2f\n", m.SharpeRatio, m.SortinoRatio)
	fmt.Printf("Costs:          commission %.2f, slippage %.2f\n", m.TotalCommission, m.TotalSlippage)
	if len(m.BySetup) > 0 {
		fmt.Println("By setup:")
		for setup, s := range m.BySetup {
			fmt.Printf("  %-14s n=%-3d win %.0f%%  pnl %.2f  avgR %.2f\n",
				setup, s.Trades, 100*s.WinRate, s.NetPnL, s.AvgR)
		}
	}
}

func zoneConfig(cfg *config.Config) zones.Config {
	zc := zones.DefaultConfig()
	zc.MergeThreshold = cfg.Detector.ZoneMergeThreshold
	zc.MinTouches = cfg.Detector.MinTouches
	return zc
}

func parseRange(startRaw, endRaw string) (time.Time, time.Time, error) {
	parse := func(s string, fallback time.Time) (time.Time, error) {
		if s == "" {
			return fallback, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", s)
	}

	start, err := parse(startRaw, time.Unix(0, 0).UTC())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parse(endRaw, time.Now().UTC())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"hyperliquid-trading-bot/config"
	"hyperliquid-trading-bot/internal/database"
	"hyperliquid-trading-bot/internal/importer"
	"hyperliquid-trading-bot/internal/logging"
	"hyperliquid-trading-bot/internal/market"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		filePath   = flag.String("file", "", "CSV file to import")
		symbol     = flag.String("symbol", "", "symbol the candles belong to")
		tfRaw      = flag.String("timeframe", "1h", "candle timeframe")
		dlqDir     = flag.String("dlq-dir", ".", "directory for the dead-letter file")
	)
	flag.Parse()

	if *filePath == "" || *symbol == "" {
		fmt.Println("Usage: import_csv -file <path> -symbol <symbol> [-timeframe 1h]")
		os.Exit(1)
	}
	tf, err := market.ParseTimeframe(*tfRaw)
	if err != nil {
		fmt.Printf("Invalid timeframe: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
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
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		fmt.Printf("Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Printf("Cannot open %s: %v\n", *filePath, err)
		os.Exit(1)
	}
	defer f.Close()

	im := importer.NewImporter(database.NewRepository(db), logger)
	result, err := im.Import(ctx, f, *symbol, tf, *dlqDir)
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("================================================================")
	fmt.Printf("CSV IMPORT  %s %s  (run %s)\n", *symbol, tf, result.RunID)
	fmt.Println("================================================================")
	fmt.Printf("Rows read:     %d\n", result.TotalRows)
	fmt.Printf("Imported:      %d\n", result.Imported)
	fmt.Printf("Stored (new):  %d\n", result.Stored)
	fmt.Printf("Failed:        %d\n", result.Failed)
	if result.DeadLetterPath != "" {
		fmt.Printf("Dead letters:  %s\n", result.DeadLetterPath)
	}
}

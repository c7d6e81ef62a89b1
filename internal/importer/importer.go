package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/database"
	"hyperliquid-trading-bot/internal/market"
)

const upsertBatchSize = 500

// msThreshold disambiguates Unix seconds from milliseconds: any value above
// 2100-01-01 in seconds is treated as milliseconds.
const msThreshold = 4_102_444_800

// CandleSink receives validated candles in batches
type CandleSink interface {
	UpsertCandles(ctx context.Context, candles []market.Candle, source database.CandleSource) (int, error)
}

// Result summarizes one import run
type Result struct {
	RunID          string
	TotalRows      int
	Imported       int
	Stored         int
	Failed         int
	DeadLetterPath string
}

// Importer reads OHLCV rows from CSV and upserts them. Rows failing
// validation go to a per-run JSONL dead-letter file; the import continues.
// Re-running the same file is a no-op because the sink upserts on
// (symbol, timeframe, timestamp, source).
type Importer struct {
	sink   CandleSink
	logger zerolog.Logger
	now    func() time.Time
}

// NewImporter creates an importer writing to the given sink
func NewImporter(sink CandleSink, logger zerolog.Logger) *Importer {
	return &Importer{
		sink:   sink,
		logger: logger.With().Str("component", "importer").Logger(),
		now:    time.Now,
	}
}

type columnMap struct {
	time, open, high, low, close, volume int
}

// Import parses CSV from r and upserts valid rows as (symbol, tf) candles.
// dlqDir is where the dead-letter file is created, lazily on first failure.
func (im *Importer) Import(ctx context.Context, r io.Reader, symbol string, tf market.Timeframe, dlqDir string) (*Result, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.New().String()}
	dlq := newDeadLetter(dlqDir, result.RunID, im.logger)
	defer dlq.Close()

	var batch []market.Candle
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stored, err := im.sink.UpsertCandles(ctx, batch, database.SourceCSV)
		if err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
		result.Stored += stored
		batch = batch[:0]
		return nil
	}

	lineNo := 1 // header
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			result.TotalRows++
			result.Failed++
			dlq.Write(lineNo, strings.Join(record, ","), err)
			continue
		}
		result.TotalRows++

		candle, err := im.parseRow(record, cols, symbol, tf)
		if err != nil {
			result.Failed++
			dlq.Write(lineNo, strings.Join(record, ","), err)
			continue
		}

		result.Imported++
		batch = append(batch, candle)
		if len(batch) >= upsertBatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	result.DeadLetterPath = dlq.Path()
	im.logger.Info().
		Str("run_id", result.RunID).
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("rows", result.TotalRows).
		Int("imported", result.Imported).
		Int("failed", result.Failed).
		Msg("CSV import complete")
	return result, nil
}

func mapColumns(header []string) (columnMap, error) {
	cols := columnMap{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "time", "timestamp", "date":
			cols.time = i
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.close = i
		case "volume", "vol":
			cols.volume = i
		}
	}
	for name, idx := range map[string]int{
		"time": cols.time, "open": cols.open, "high": cols.high,
		"low": cols.low, "close": cols.close,
	} {
		if idx < 0 {
			return cols, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

func (im *Importer) parseRow(record []string, cols columnMap, symbol string, tf market.Timeframe) (market.Candle, error) {
	field := func(idx int) (string, error) {
		if idx >= len(record) {
			return "", fmt.Errorf("row has %d fields, need index %d", len(record), idx)
		}
		return strings.TrimSpace(record[idx]), nil
	}

	raw, err := field(cols.time)
	if err != nil {
		return market.Candle{}, err
	}
	ts, err := parseTime(raw)
	if err != nil {
		return market.Candle{}, err
	}

	prices := make(map[string]float64, 4)
	for name, idx := range map[string]int{
		"open": cols.open, "high": cols.high, "low": cols.low, "close": cols.close,
	} {
		s, err := field(idx)
		if err != nil {
			return market.Candle{}, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("invalid %s %q", name, s)
		}
		prices[name] = v
	}

	var volume float64
	if cols.volume >= 0 {
		s, err := field(cols.volume)
		if err == nil && s != "" {
			volume, err = strconv.ParseFloat(s, 64)
			if err != nil {
				return market.Candle{}, fmt.Errorf("invalid volume %q", s)
			}
		}
	}

	candle := market.Candle{
		Timestamp: market.Align(ts, tf),
		Open:      prices["open"],
		High:      prices["high"],
		Low:       prices["low"],
		Close:     prices["close"],
		Volume:    volume,
		Symbol:    symbol,
		Timeframe: tf,
	}
	if err := candle.Validate(im.now()); err != nil {
		return market.Candle{}, err
	}
	return candle, nil
}

// isoLayouts are tried in order for non-numeric timestamps. Naive layouts are
// interpreted as UTC.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v > msThreshold {
			return time.UnixMilli(v).UTC(), nil
		}
		return time.Unix(v, 0).UTC(), nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

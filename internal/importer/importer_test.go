package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hyperliquid-trading-bot/internal/database"
	"hyperliquid-trading-bot/internal/market"
)

type memSink struct {
	candles map[string]market.Candle
}

func newMemSink() *memSink {
	return &memSink{candles: make(map[string]market.Candle)}
}

func (m *memSink) UpsertCandles(ctx context.Context, candles []market.Candle, source database.CandleSource) (int, error) {
	var stored int
	for _, c := range candles {
		key := fmt.Sprintf("%s|%s|%d|%s", c.Symbol, c.Timeframe, c.Timestamp.UnixMilli(), source)
		if _, ok := m.candles[key]; ok {
			continue
		}
		m.candles[key] = c
		stored++
	}
	return stored, nil
}

func newTestImporter(sink CandleSink) *Importer {
	im := NewImporter(sink, zerolog.Nop())
	im.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return im
}

func TestImportValidCSV(t *testing.T) {
	data := `time,open,high,low,close,volume
1709251200,50000,50100,49900,50050,120.5
1709254800,50050,50200,50000,50150,98
1709258400,50150,50300,50100,50250,
`
	sink := newMemSink()
	im := newTestImporter(sink)

	result, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.TotalRows != 3 || result.Imported != 3 || result.Stored != 3 || result.Failed != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if result.DeadLetterPath != "" {
		t.Errorf("Clean import must not create a dead-letter file, got %s", result.DeadLetterPath)
	}
	if len(sink.candles) != 3 {
		t.Fatalf("Expected 3 candles in sink, got %d", len(sink.candles))
	}
	for _, c := range sink.candles {
		if c.Symbol != "BTC" || c.Timeframe != market.TF1h {
			t.Errorf("Candle not tagged with symbol/timeframe: %+v", c)
		}
	}
}

func TestImportTimeFormats(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	data := `time,open,high,low,close
1709251200,50000,50100,49900,50050
1709254800000,50000,50100,49900,50050
2024-03-01T02:00:00Z,50000,50100,49900,50050
2024-03-01 03:00:00,50000,50100,49900,50050
`
	sink := newMemSink()
	im := newTestImporter(sink)

	result, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 4 {
		t.Fatalf("Expected 4 rows imported, got %+v", result)
	}
	for hour := 0; hour < 4; hour++ {
		want := base.Add(time.Duration(hour) * time.Hour)
		found := false
		for _, c := range sink.candles {
			if c.Timestamp.Equal(want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("No candle at %s", want)
		}
	}
}

func TestImportAlignsToTimeframe(t *testing.T) {
	// 00:01:00 must align down to the hour boundary
	data := `time,open,high,low,close
1709251260,50000,50100,49900,50050
`
	sink := newMemSink()
	im := newTestImporter(sink)

	if _, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir()); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range sink.candles {
		if !c.Timestamp.Equal(want) {
			t.Errorf("Expected aligned timestamp %s, got %s", want, c.Timestamp)
		}
	}
}

func TestImportInvalidRowsGoToDeadLetter(t *testing.T) {
	data := `time,open,high,low,close
1709251200,50000,50100,49900,50050
1709254800,50000,49000,49900,50050
not-a-time,50000,50100,49900,50050
2030-01-01T00:00:00Z,50000,50100,49900,50050
1709262000,50000,50100,49900,50050
`
	sink := newMemSink()
	im := newTestImporter(sink)

	result, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 2 || result.Failed != 3 {
		t.Fatalf("Expected 2 imported and 3 failed, got %+v", result)
	}
	if result.DeadLetterPath == "" {
		t.Fatal("Expected a dead-letter file")
	}

	f, err := os.Open(result.DeadLetterPath)
	if err != nil {
		t.Fatalf("Cannot open dead-letter file: %v", err)
	}
	defer f.Close()

	var records []deadLetterRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec deadLetterRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Bad JSONL line: %v", err)
		}
		records = append(records, rec)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 dead-letter records, got %d", len(records))
	}
	// Header is line 1, so the first failing row is line 3
	if records[0].LineNo != 3 || records[1].LineNo != 4 || records[2].LineNo != 5 {
		t.Errorf("Wrong line numbers: %+v", records)
	}
	for _, rec := range records {
		if rec.Error == "" || rec.Raw == "" {
			t.Errorf("Incomplete dead-letter record: %+v", rec)
		}
	}
}

func TestImportIdempotent(t *testing.T) {
	data := `time,open,high,low,close,volume
1709251200,50000,50100,49900,50050,10
1709254800,50050,50200,50000,50150,12
`
	sink := newMemSink()
	im := newTestImporter(sink)

	first, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir())
	if err != nil {
		t.Fatalf("First import failed: %v", err)
	}
	second, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir())
	if err != nil {
		t.Fatalf("Second import failed: %v", err)
	}

	if first.Stored != 2 || second.Stored != 0 {
		t.Errorf("Re-import must store nothing: first %+v, second %+v", first, second)
	}
	if len(sink.candles) != 2 {
		t.Errorf("Expected 2 candles after re-import, got %d", len(sink.candles))
	}
}

func TestImportHeaderFlexibility(t *testing.T) {
	data := ` Time , OPEN ,High, low , Close , Vol
1709251200,50000,50100,49900,50050,5
`
	sink := newMemSink()
	im := newTestImporter(sink)

	result, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Expected 1 row imported, got %+v", result)
	}
	for _, c := range sink.candles {
		if c.Volume != 5 {
			t.Errorf("Expected volume 5, got %f", c.Volume)
		}
	}
}

func TestImportMissingColumnFails(t *testing.T) {
	data := `time,open,high,low
1709251200,50000,50100,49900
`
	im := newTestImporter(newMemSink())
	if _, err := im.Import(context.Background(), strings.NewReader(data), "BTC", market.TF1h, t.TempDir()); err == nil {
		t.Fatal("Expected error for missing close column")
	}
}

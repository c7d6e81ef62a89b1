package market

import (
	"fmt"
	"time"
)

// Candle is the canonical OHLCV entity. Timestamp is the UTC start of the
// period, aligned to the timeframe boundary from the Unix epoch.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
}

// Validate checks the OHLCV invariants. now is injected so importers can
// enforce the non-future constraint deterministically.
func (c Candle) Validate(now time.Time) error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("non-positive price in candle at %s", c.Timestamp.UTC().Format(time.RFC3339))
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume %.8f at %s", c.Volume, c.Timestamp.UTC().Format(time.RFC3339))
	}
	if c.High < c.Open || c.High < c.Close || c.High < c.Low {
		return fmt.Errorf("high %.8f below open/close/low at %s", c.High, c.Timestamp.UTC().Format(time.RFC3339))
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("low %.8f above open/close at %s", c.Low, c.Timestamp.UTC().Format(time.RFC3339))
	}
	if c.Timestamp.After(now) {
		return fmt.Errorf("candle timestamp %s is in the future", c.Timestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

// IsBullish reports whether the candle closed above its open
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish reports whether the candle closed below its open
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// Body returns the absolute body size
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-low range
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// UpperWick returns the distance from the body top to the high
func (c Candle) UpperWick() float64 {
	if c.Close >= c.Open {
		return c.High - c.Close
	}
	return c.High - c.Open
}

// LowerWick returns the distance from the low to the body bottom
func (c Candle) LowerWick() float64 {
	if c.Close >= c.Open {
		return c.Open - c.Low
	}
	return c.Close - c.Low
}

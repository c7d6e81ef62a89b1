package market

import (
	"fmt"
	"time"
)

// Timeframe represents a candle period
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF8h  Timeframe = "8h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF3d  Timeframe = "3d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M" // approximated as 30 days
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF3m:  3 * time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF2h:  2 * time.Hour,
	TF4h:  4 * time.Hour,
	TF8h:  8 * time.Hour,
	TF12h: 12 * time.Hour,
	TF1d:  24 * time.Hour,
	TF3d:  72 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
	TF1M:  30 * 24 * time.Hour,
}

// AllTimeframes lists the supported timeframes in ascending duration order
var AllTimeframes = []Timeframe{
	TF1m, TF3m, TF5m, TF15m, TF30m, TF1h, TF2h, TF4h, TF8h, TF12h, TF1d, TF3d, TF1w, TF1M,
}

// Duration returns the timeframe's period length; zero for unknown timeframes
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Seconds returns the period length in whole seconds
func (tf Timeframe) Seconds() int64 {
	return int64(tf.Duration() / time.Second)
}

// Valid reports whether the timeframe is one of the supported set
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// ParseTimeframe validates and returns a timeframe from its string form
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// IsParentOf reports whether tf can be losslessly resampled from child:
// tf's duration must be a positive multiple of child's duration.
func (tf Timeframe) IsParentOf(child Timeframe) bool {
	pd, cd := tf.Duration(), child.Duration()
	if pd == 0 || cd == 0 {
		return false
	}
	return pd >= cd && pd%cd == 0
}

// Align floors ts to the nearest timeframe boundary from the Unix epoch
func Align(ts time.Time, tf Timeframe) time.Time {
	secs := tf.Seconds()
	if secs <= 0 {
		return ts.UTC()
	}
	unix := ts.Unix()
	aligned := unix - (unix % secs)
	if unix < 0 && unix%secs != 0 {
		aligned -= secs
	}
	return time.Unix(aligned, 0).UTC()
}

// HigherTimeframe picks the largest supported timeframe whose duration is at
// least mult times the entry timeframe, for HTF bias analysis. Falls back to
// the entry timeframe itself when nothing qualifies among candidates.
func HigherTimeframe(entry Timeframe, candidates []Timeframe, mult int) Timeframe {
	if mult <= 0 {
		mult = 4
	}
	need := entry.Duration() * time.Duration(mult)
	best := entry
	for _, tf := range candidates {
		if tf.Duration() >= need && tf.Duration() > best.Duration() {
			best = tf
		}
	}
	return best
}

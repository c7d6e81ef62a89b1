package market

import (
	"fmt"
	"sort"
	"time"
)

// Resample aggregates candles from a lower timeframe into a higher one.
// Gaps within a group are tolerated; out-of-order input is sorted per group
// before picking first/last. The source slice is never mutated.
func Resample(candles []Candle, src, dst Timeframe) ([]Candle, error) {
	if !src.Valid() {
		return nil, fmt.Errorf("invalid source timeframe %q", src)
	}
	if !dst.Valid() {
		return nil, fmt.Errorf("invalid destination timeframe %q", dst)
	}
	if !dst.IsParentOf(src) {
		return nil, fmt.Errorf("cannot resample %s to %s: destination must be a multiple of source", src, dst)
	}
	if len(candles) == 0 {
		return []Candle{}, nil
	}

	groups := make(map[int64][]Candle)
	for _, c := range candles {
		key := Align(c.Timestamp, dst).Unix()
		groups[key] = append(groups[key], c)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Candle, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		agg := Candle{
			Timestamp: time.Unix(k, 0).UTC(),
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
			Symbol:    group[0].Symbol,
			Timeframe: dst,
		}
		for _, c := range group {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Volume += c.Volume
		}
		out = append(out, agg)
	}

	return out, nil
}

// CandleAt finds the candle whose aligned timestamp equals the aligned ts.
// Input must be sorted by timestamp; lookup is a binary search.
func CandleAt(candles []Candle, ts time.Time, tf Timeframe) (Candle, bool) {
	target := Align(ts, tf).Unix()
	i := sort.Search(len(candles), func(i int) bool {
		return Align(candles[i].Timestamp, tf).Unix() >= target
	})
	if i < len(candles) && Align(candles[i].Timestamp, tf).Unix() == target {
		return candles[i], true
	}
	return Candle{}, false
}

// SortByTimestamp sorts candles ascending by timestamp in place
func SortByTimestamp(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
}

package zones

import (
	"math"
	"sort"
	"time"

	"hyperliquid-trading-bot/internal/market"
	"hyperliquid-trading-bot/internal/structure"
)

// ZoneType marks a zone as supply or demand
type ZoneType string

const (
	Support    ZoneType = "support"
	Resistance ZoneType = "resistance"
)

// StrengthClass buckets the zone strength score
type StrengthClass string

const (
	Weak     StrengthClass = "weak"
	Moderate StrengthClass = "moderate"
	Strong   StrengthClass = "strong"
	Major    StrengthClass = "major"
)

// Zone is a horizontal support or resistance band built from swing clusters
type Zone struct {
	Type          ZoneType      `json:"type"`
	Top           float64       `json:"top"`
	Bottom        float64       `json:"bottom"`
	Strength      StrengthClass `json:"strength"`
	StrengthScore float64       `json:"strength_score"`
	Touches       int           `json:"touches"`
	Bounces       int           `json:"bounces"`
	FirstTouch    time.Time     `json:"first_touch"`
	LastTouch     time.Time     `json:"last_touch"`
	Broken        bool          `json:"broken"`
	AvgVolume     float64       `json:"avg_volume"`
}

// Mid returns the zone midpoint
func (z Zone) Mid() float64 {
	return (z.Top + z.Bottom) / 2
}

// Width returns the zone band width
func (z Zone) Width() float64 {
	return z.Top - z.Bottom
}

// Config holds zone detector parameters
type Config struct {
	BandWidth       float64 // half-width as a fraction of price
	MinBandAbs      float64 // absolute half-width floor
	MergeThreshold  float64 // relative midpoint distance for merging
	MinTouches      int
	BounceLookahead int // candles checked for rejection after a touch
}

// DefaultConfig returns the zone detector defaults
func DefaultConfig() Config {
	return Config{
		BandWidth:       0.002,
		MinBandAbs:      1e-9,
		MergeThreshold:  0.01,
		MinTouches:      2,
		BounceLookahead: 3,
	}
}

// Detector clusters swing extrema into zones and keeps the latest result for
// proximity queries
type Detector struct {
	cfg   Config
	zones []Zone
}

// NewDetector creates a zone detector
func NewDetector(cfg Config) *Detector {
	if cfg.BandWidth <= 0 {
		cfg.BandWidth = 0.002
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = 0.01
	}
	if cfg.MinTouches <= 0 {
		cfg.MinTouches = 2
	}
	if cfg.BounceLookahead <= 0 {
		cfg.BounceLookahead = 3
	}
	return &Detector{cfg: cfg}
}

// Detect builds support zones from swing lows and resistance zones from swing
// highs, then counts touches and bounces against the candle series. The result
// is retained for FindNearest and ActiveZones.
func (d *Detector) Detect(candles []market.Candle, swings []structure.SwingPoint) []Zone {
	var highs, lows []float64
	for _, s := range swings {
		if s.Type == structure.SwingHigh {
			highs = append(highs, s.Price)
		} else {
			lows = append(lows, s.Price)
		}
	}

	zones := append(
		d.buildZones(candles, highs, Resistance),
		d.buildZones(candles, lows, Support)...,
	)

	var kept []Zone
	for _, z := range zones {
		if z.Touches >= d.cfg.MinTouches {
			z.StrengthScore = strengthScore(z, candles)
			z.Strength = classify(z.StrengthScore)
			kept = append(kept, z)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Mid() < kept[j].Mid() })

	d.zones = kept
	return kept
}

// Zones returns the zones from the last Detect call
func (d *Detector) Zones() []Zone {
	return d.zones
}

// FindNearest returns the zone whose midpoint is closest to price, within
// maxDistancePct relative distance, or nil
func (d *Detector) FindNearest(price, maxDistancePct float64) *Zone {
	if price <= 0 {
		return nil
	}
	var best *Zone
	bestDist := math.MaxFloat64
	for i := range d.zones {
		dist := math.Abs(d.zones[i].Mid()-price) / price
		if dist <= maxDistancePct && dist < bestDist {
			best = &d.zones[i]
			bestDist = dist
		}
	}
	return best
}

// ActiveZones returns unbroken zones within 10% of price
func (d *Detector) ActiveZones(price float64) []Zone {
	if price <= 0 {
		return nil
	}
	var out []Zone
	for _, z := range d.zones {
		if z.Broken {
			continue
		}
		if math.Abs(z.Mid()-price)/price <= 0.10 {
			out = append(out, z)
		}
	}
	return out
}

// PriceInZone reports whether price sits inside the band
func PriceInZone(price float64, z Zone) bool {
	return price >= z.Bottom && price <= z.Top
}

func (d *Detector) buildZones(candles []market.Candle, prices []float64, t ZoneType) []Zone {
	if len(prices) == 0 {
		return nil
	}
	sort.Float64s(prices)

	// Candidate band per swing price, then merge close midpoints
	var zones []Zone
	for _, p := range prices {
		half := d.cfg.BandWidth * p
		if half < d.cfg.MinBandAbs {
			half = d.cfg.MinBandAbs
		}
		z := Zone{Type: t, Top: p + half, Bottom: p - half}

		if n := len(zones); n > 0 {
			prev := &zones[n-1]
			mid := prev.Mid()
			if mid > 0 && math.Abs(z.Mid()-mid)/mid <= d.cfg.MergeThreshold {
				if z.Top > prev.Top {
					prev.Top = z.Top
				}
				if z.Bottom < prev.Bottom {
					prev.Bottom = z.Bottom
				}
				continue
			}
		}
		zones = append(zones, z)
	}

	for i := range zones {
		d.countTouches(&zones[i], candles)
	}
	return zones
}

// countTouches walks the candles once per zone: a touch is a candle reaching
// the band without closing through it, a bounce is a touch followed by a close
// more than one band-width beyond the rejecting side within the lookahead.
func (d *Detector) countTouches(z *Zone, candles []market.Candle) {
	width := z.Width()
	var volSum float64

	for i, c := range candles {
		var touched, broke bool
		if z.Type == Resistance {
			touched = c.High >= z.Bottom && c.Close <= z.Top
			broke = c.Close > z.Top+width
		} else {
			touched = c.Low <= z.Top && c.Close >= z.Bottom
			broke = c.Close < z.Bottom-width
		}

		if broke && z.Touches > 0 {
			z.Broken = true
		}
		if !touched {
			continue
		}

		z.Touches++
		volSum += c.Volume
		if z.FirstTouch.IsZero() {
			z.FirstTouch = c.Timestamp
		}
		z.LastTouch = c.Timestamp

		end := i + 1 + d.cfg.BounceLookahead
		if end > len(candles) {
			end = len(candles)
		}
		for _, n := range candles[i+1 : end] {
			if z.Type == Resistance && n.Close < z.Bottom-width {
				z.Bounces++
				break
			}
			if z.Type == Support && n.Close > z.Top+width {
				z.Bounces++
				break
			}
		}
	}

	if z.Touches > 0 {
		z.AvgVolume = volSum / float64(z.Touches)
	}
}

// strengthScore weighs touch count, bounce rate and touch volume relative to
// the series average
func strengthScore(z Zone, candles []market.Candle) float64 {
	touchScore := float64(z.Touches) / 8
	if touchScore > 1 {
		touchScore = 1
	}

	var bounceRate float64
	if z.Touches > 0 {
		bounceRate = float64(z.Bounces) / float64(z.Touches)
	}

	var volRatio float64
	if avg := avgVolume(candles); avg > 0 {
		volRatio = z.AvgVolume / avg
	}
	volScore := volRatio / 1.5
	if volScore > 1 {
		volScore = 1
	}

	return 0.4*touchScore + 0.35*bounceRate + 0.25*volScore
}

func classify(score float64) StrengthClass {
	switch {
	case score >= 0.8:
		return Major
	case score >= 0.6:
		return Strong
	case score >= 0.4:
		return Moderate
	default:
		return Weak
	}
}

func avgVolume(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

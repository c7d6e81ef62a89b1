package backtest

import (
	"math"
	"sort"
	"time"

	"hyperliquid-trading-bot/internal/signal"
)

// Metrics summarizes a finished backtest
type Metrics struct {
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"`
	TotalPnL           float64 `json:"total_pnl"`
	TotalReturnPercent float64 `json:"total_return_percent"`
	AvgWin             float64 `json:"avg_win"`
	AvgLoss            float64 `json:"avg_loss"`
	LargestWin         float64 `json:"largest_win"`
	LargestLoss        float64 `json:"largest_loss"`
	ProfitFactor       float64 `json:"profit_factor"`
	Expectancy         float64 `json:"expectancy"`

	AvgR    float64 `json:"avg_r"`
	MedianR float64 `json:"median_r"`
	BestR   float64 `json:"best_r"`
	WorstR  float64 `json:"worst_r"`
	StdR    float64 `json:"std_r"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	CalmarRatio        float64 `json:"calmar_ratio"`

	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`

	BySetup map[signal.SetupType]SetupStats `json:"by_setup,omitempty"`
}

// SetupStats is the performance slice for one setup type
type SetupStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	NetPnL  float64 `json:"net_pnl"`
	AvgR    float64 `json:"avg_r"`
}

func computeMetrics(trades []*Trade, curve []EquityPoint, initialCapital, commission, slippage float64) *Metrics {
	m := &Metrics{
		TotalCommission: commission,
		TotalSlippage:   slippage,
	}

	var sumWins, sumLosses float64
	var winStreak, lossStreak int
	rs := make([]float64, 0, len(trades))
	for _, t := range trades {
		m.TotalTrades++
		m.TotalPnL += t.RealizedPnL
		rs = append(rs, t.RMultiple)

		if t.RealizedPnL > 0 {
			m.WinningTrades++
			sumWins += t.RealizedPnL
			if t.RealizedPnL > m.LargestWin {
				m.LargestWin = t.RealizedPnL
			}
			winStreak++
			lossStreak = 0
		} else {
			m.LosingTrades++
			sumLosses += t.RealizedPnL
			if t.RealizedPnL < m.LargestLoss {
				m.LargestLoss = t.RealizedPnL
			}
			lossStreak++
			winStreak = 0
		}
		if winStreak > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = winStreak
		}
		if lossStreak > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = lossStreak
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = sumWins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = sumLosses / float64(m.LosingTrades)
	}
	if sumLosses < 0 {
		m.ProfitFactor = sumWins / math.Abs(sumLosses)
	} else if sumWins > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	m.Expectancy = m.WinRate*m.AvgWin + (1-m.WinRate)*m.AvgLoss
	if initialCapital > 0 {
		m.TotalReturnPercent = 100 * m.TotalPnL / initialCapital
	}

	if len(rs) > 0 {
		m.AvgR = mean(rs)
		m.StdR = stddev(rs, m.AvgR)
		sorted := append([]float64(nil), rs...)
		sort.Float64s(sorted)
		m.MedianR = median(sorted)
		m.BestR = sorted[len(sorted)-1]
		m.WorstR = sorted[0]
	}

	for _, p := range curve {
		if p.Drawdown > m.MaxDrawdown {
			m.MaxDrawdown = p.Drawdown
		}
		if p.DrawdownPct > m.MaxDrawdownPercent {
			m.MaxDrawdownPercent = p.DrawdownPct
		}
	}

	daily := dailyReturns(curve)
	if len(daily) > 1 {
		mu := mean(daily)
		sd := stddev(daily, mu)
		if sd > 0 {
			m.SharpeRatio = math.Sqrt(252) * mu / sd
		}
		// Downside deviation over all samples, losses only
		var sumSq float64
		for _, r := range daily {
			if r < 0 {
				sumSq += r * r
			}
		}
		if dsd := math.Sqrt(sumSq / float64(len(daily))); dsd > 0 {
			m.SortinoRatio = math.Sqrt(252) * mu / dsd
		}
	}
	if m.MaxDrawdownPercent > 0 {
		m.CalmarRatio = (m.TotalReturnPercent / 100) / m.MaxDrawdownPercent
	}

	m.BySetup = setupBreakdown(trades)
	return m
}

// setupBreakdown tallies performance per setup type; trades without a setup
// tag are skipped
func setupBreakdown(trades []*Trade) map[signal.SetupType]SetupStats {
	sumR := make(map[signal.SetupType]float64)
	stats := make(map[signal.SetupType]SetupStats)
	for _, t := range trades {
		if t.SetupType == "" {
			continue
		}
		s := stats[t.SetupType]
		s.Trades++
		s.NetPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			s.Wins++
		}
		sumR[t.SetupType] += t.RMultiple
		stats[t.SetupType] = s
	}
	if len(stats) == 0 {
		return nil
	}
	for setup, s := range stats {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
		s.AvgR = sumR[setup] / float64(s.Trades)
		stats[setup] = s
	}
	return stats
}

// dailyReturns collapses the equity curve to one sample per UTC day and
// returns day-over-day returns
func dailyReturns(curve []EquityPoint) []float64 {
	if len(curve) == 0 {
		return nil
	}

	var closes []float64
	day := curve[0].Timestamp.UTC().Truncate(24 * time.Hour)
	last := curve[0].Equity
	for _, p := range curve[1:] {
		d := p.Timestamp.UTC().Truncate(24 * time.Hour)
		if !d.Equal(day) {
			closes = append(closes, last)
			day = d
		}
		last = p.Equity
	}
	closes = append(closes, last)

	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	return returns
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += (x - mu) * (x - mu)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

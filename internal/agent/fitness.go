package agent

import (
	"math"
	"time"
)

const (
	// MinFitnessHistory is the number of daily records needed before fitness is scored.
	MinFitnessHistory = 7
	tradingDaysPerYear = 365.0
	consistencyWinRate = 0.65
	consistencyBonus   = 0.1
)

type PerformanceRecord struct {
	Date    time.Time `json:"date"`
	Capital float64   `json:"capital"`
	PnL     float64   `json:"pnl"`
	Trades  int       `json:"trades"`
	Fitness float64   `json:"fitness"`
}

// Metrics is the set of scores derived from one agent's history.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Sharpe           float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Volatility       float64 `json:"volatility"`
	WinRate          float64 `json:"win_rate"`
}

func TotalReturn(current, initial float64) float64 {
	if initial == 0 {
		return 0
	}
	return (current - initial) / initial
}

// AnnualizedReturn is the CAGR over age days. With no age the total return is
// returned unchanged.
func AnnualizedReturn(totalReturn float64, ageDays int) float64 {
	if ageDays <= 0 {
		return totalReturn
	}
	return math.Pow(1+totalReturn, tradingDaysPerYear/float64(ageDays)) - 1
}

func DailyReturns(history []PerformanceRecord) []float64 {
	out := make([]float64, len(history))
	for i, day := range history {
		// a day recorded with no capital contributes a flat return
		if day.Capital == 0 {
			continue
		}
		out[i] = day.PnL / day.Capital
	}
	return out
}

func Volatility(history []PerformanceRecord) float64 {
	if len(history) < 2 {
		return 0
	}
	_, std := meanStd(DailyReturns(history))
	return std * math.Sqrt(tradingDaysPerYear)
}

func SharpeRatio(history []PerformanceRecord) float64 {
	if len(history) < 2 {
		return 0
	}
	mean, std := meanStd(DailyReturns(history))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown is the deepest peak-to-trough fall of the capital curve as a
// negative fraction.
func MaxDrawdown(history []PerformanceRecord) float64 {
	if len(history) < 2 {
		return 0
	}
	peak := history[0].Capital
	maxDD := 0.0
	for _, day := range history {
		if day.Capital > peak {
			peak = day.Capital
		}
		if peak <= 0 {
			continue
		}
		if dd := (day.Capital - peak) / peak; dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func WinRate(history []PerformanceRecord) float64 {
	if len(history) == 0 {
		return 0
	}
	wins := 0
	for _, day := range history {
		if day.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(history))
}

// Fitness blends the metrics into one score:
//
//	0.3*return + 0.4*sharpe - 0.2*|drawdown| - 0.1*volatility + 0.1 if win rate > 65%
func Fitness(historyLen int, m Metrics) float64 {
	if historyLen < MinFitnessHistory {
		return 0
	}
	score := m.TotalReturn*0.3 + m.Sharpe*0.4 - math.Abs(m.MaxDrawdown)*0.2 - m.Volatility*0.1
	if m.WinRate > consistencyWinRate {
		score += consistencyBonus
	}
	return score
}

func ComputeMetrics(history []PerformanceRecord, current, initial float64, ageDays int) Metrics {
	total := TotalReturn(current, initial)
	return Metrics{
		TotalReturn:      total,
		AnnualizedReturn: AnnualizedReturn(total, ageDays),
		Sharpe:           SharpeRatio(history),
		MaxDrawdown:      MaxDrawdown(history),
		Volatility:       Volatility(history),
		WinRate:          WinRate(history),
	}
}

// meanStd uses the population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

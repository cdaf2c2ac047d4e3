package engine

import "math"

// Metrics summarizes a completed (or aborted) session from its full trade
// list and equity curve. Pure derivation: recomputation from the same inputs
// yields identical output.
type Metrics struct {
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	TotalPnl     float64 `json:"total_pnl"`
	TotalReturn  float64 `json:"total_return"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Sharpe       float64 `json:"sharpe"`
	ProfitFactor float64 `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
}

// ComputeMetrics derives session metrics.
//
// Only action=close rows enter the trade statistics: open rows and
// break-even closes (pnl == 0) count toward neither wins nor losses, and the
// win-rate denominator is wins+losses. TotalTrades is the count of close
// rows. Zero-denominator cases resolve to 0, never an error.
func ComputeMetrics(trades []Trade, curve []EquityPoint, initialCapital float64) Metrics {
	var m Metrics

	var wins, losses int
	var grossProfit, grossLoss, totalPnl float64
	for _, t := range trades {
		if t.Action != ActionClose {
			continue
		}
		m.TotalTrades++
		totalPnl += t.Pnl
		switch {
		case t.Pnl > 0:
			wins++
			grossProfit += t.Pnl
		case t.Pnl < 0:
			losses++
			grossLoss += -t.Pnl
		}
	}
	m.TotalPnl = totalPnl

	if wins+losses > 0 {
		m.WinRate = float64(wins) / float64(wins+losses)
	}
	if m.TotalTrades > 0 {
		m.Expectancy = totalPnl / float64(m.TotalTrades)
	}
	if wins > 0 {
		m.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}

	if len(curve) > 0 && initialCapital > 0 {
		final := curve[len(curve)-1].Equity
		m.TotalReturn = (final - initialCapital) / initialCapital
	}
	for _, p := range curve {
		if p.Drawdown > m.MaxDrawdown {
			m.MaxDrawdown = p.Drawdown
		}
	}
	m.Sharpe = sharpe(curve)
	return m
}

// sharpe computes the ratio of mean to standard deviation of per-period
// equity returns. Zero-variance samples report 0.
func sharpe(curve []EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	// Constant returns leave floating-point residue in the variance sum, so
	// an exact zero check would divide by ~1e-15. Treat anything within
	// rounding noise of the mean's magnitude as zero variance.
	if variance <= 1e-12*mean*mean+1e-18 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

package engine

import (
	"math"
	"testing"
)

func closeTrade(pnl float64) Trade {
	return Trade{Action: ActionClose, Pnl: pnl}
}

// 17 closed trades (4 wins, 13 losses) with open rows mixed in: the win rate
// is 4/17, never 4/(closes+opens).
func TestWinRateDenominatorIgnoresOpenRows(t *testing.T) {
	var trades []Trade
	for i := 0; i < 4; i++ {
		trades = append(trades, closeTrade(10))
		trades = append(trades, Trade{Action: ActionOpen})
	}
	for i := 0; i < 13; i++ {
		trades = append(trades, closeTrade(-5))
		trades = append(trades, Trade{Action: ActionOpen})
		trades = append(trades, Trade{Action: ActionOpen})
	}

	m := ComputeMetrics(trades, nil, 10000)
	if m.TotalTrades != 17 {
		t.Fatalf("total trades = %d, want 17", m.TotalTrades)
	}
	if math.Abs(m.WinRate-4.0/17.0) > 1e-12 {
		t.Fatalf("win rate = %f, want %f", m.WinRate, 4.0/17.0)
	}
}

// Break-even closes count toward neither wins nor losses: 4 wins, 12 losses
// and 1 zero-pnl close give 4/16, not 4/17.
func TestWinRateExcludesBreakEven(t *testing.T) {
	var trades []Trade
	for i := 0; i < 4; i++ {
		trades = append(trades, closeTrade(10))
	}
	for i := 0; i < 12; i++ {
		trades = append(trades, closeTrade(-5))
	}
	trades = append(trades, closeTrade(0))

	m := ComputeMetrics(trades, nil, 10000)
	if m.TotalTrades != 17 {
		t.Fatalf("total trades = %d, want 17", m.TotalTrades)
	}
	if math.Abs(m.WinRate-0.25) > 1e-12 {
		t.Fatalf("win rate = %f, want 0.25", m.WinRate)
	}
}

func TestOpenRowsExcludedFromTradeStats(t *testing.T) {
	trades := []Trade{
		{Action: ActionOpen},
		{Action: ActionOpen},
		closeTrade(5),
	}
	m := ComputeMetrics(trades, nil, 10000)
	if m.TotalTrades != 1 {
		t.Fatalf("total trades = %d, want 1 (close rows only)", m.TotalTrades)
	}
	if m.WinRate != 1 {
		t.Fatalf("win rate = %f, want 1", m.WinRate)
	}
}

func TestComputeMetricsIsIdempotent(t *testing.T) {
	trades := []Trade{closeTrade(3), closeTrade(-1), closeTrade(0), closeTrade(7)}
	curve := []EquityPoint{
		{Equity: 10000}, {Equity: 10100, Drawdown: 0},
		{Equity: 10050, Drawdown: 0.00495}, {Equity: 10200},
	}
	a := ComputeMetrics(trades, curve, 10000)
	b := ComputeMetrics(trades, curve, 10000)
	if a != b {
		t.Fatalf("recomputation differs: %+v vs %+v", a, b)
	}
}

func TestProfitFactorConventions(t *testing.T) {
	// No losses: profit factor stays 0 by convention, not +Inf.
	m := ComputeMetrics([]Trade{closeTrade(5), closeTrade(3)}, nil, 10000)
	if m.ProfitFactor != 0 {
		t.Fatalf("profit factor with no losses = %f, want 0", m.ProfitFactor)
	}

	m = ComputeMetrics([]Trade{closeTrade(6), closeTrade(-3)}, nil, 10000)
	if math.Abs(m.ProfitFactor-2) > 1e-12 {
		t.Fatalf("profit factor = %f, want 2", m.ProfitFactor)
	}
}

func TestNoTradesAllZero(t *testing.T) {
	m := ComputeMetrics(nil, nil, 10000)
	if m.TotalTrades != 0 || m.WinRate != 0 || m.Expectancy != 0 || m.ProfitFactor != 0 {
		t.Fatalf("empty input should produce zero metrics, got %+v", m)
	}
}

func TestMaxDrawdownFromCurve(t *testing.T) {
	curve := []EquityPoint{
		{Equity: 10000, Drawdown: 0},
		{Equity: 11000, Drawdown: 0},
		{Equity: 9900, Drawdown: 0.1},
		{Equity: 10500, Drawdown: 0.04545},
	}
	m := ComputeMetrics(nil, curve, 10000)
	if math.Abs(m.MaxDrawdown-0.1) > 1e-12 {
		t.Fatalf("max drawdown = %f, want 0.1", m.MaxDrawdown)
	}
	if math.Abs(m.TotalReturn-0.05) > 1e-12 {
		t.Fatalf("total return = %f, want 0.05", m.TotalReturn)
	}
}

func TestSharpeZeroVariance(t *testing.T) {
	curve := []EquityPoint{
		{Equity: 10000}, {Equity: 10100}, {Equity: 10201}, {Equity: 10303.01},
	}
	// Constant 1% return per period: zero variance, sharpe reports 0.
	if got := sharpe(curve); got != 0 {
		t.Fatalf("sharpe = %f, want 0 on zero variance", got)
	}
}

func TestSharpeGenuineVarianceStaysNonZero(t *testing.T) {
	curve := []EquityPoint{
		{Equity: 10000}, {Equity: 10200}, {Equity: 10100}, {Equity: 10400},
	}
	if got := sharpe(curve); got == 0 {
		t.Fatal("dispersed returns must not be flattened to 0")
	}
}

func TestSharpeShortCurve(t *testing.T) {
	if got := sharpe([]EquityPoint{{Equity: 1}, {Equity: 2}}); got != 0 {
		t.Fatalf("sharpe = %f, want 0 for short curves", got)
	}
}

func TestExpectancyAveragesAllCloses(t *testing.T) {
	m := ComputeMetrics([]Trade{closeTrade(10), closeTrade(-4), closeTrade(0)}, nil, 10000)
	if math.Abs(m.Expectancy-2) > 1e-12 {
		t.Fatalf("expectancy = %f, want 2", m.Expectancy)
	}
	if math.Abs(m.AvgWin-10) > 1e-12 || math.Abs(m.AvgLoss-4) > 1e-12 {
		t.Fatalf("avg win/loss = %f/%f", m.AvgWin, m.AvgLoss)
	}
}

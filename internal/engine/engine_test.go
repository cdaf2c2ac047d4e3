package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"bandbot/internal/market"
	"bandbot/internal/strategy"
)

// alwaysLong opens a long on every analyzable candle. Used to pin the
// stop-before-strategy ordering.
type alwaysLong struct{}

func (alwaysLong) Name() string { return "always_long" }
func (alwaysLong) Warmup() int  { return 1 }
func (alwaysLong) Analyze(snap *strategy.Snapshot) ([]strategy.Signal, error) {
	return []strategy.Signal{{Kind: strategy.SignalLong, Qty: 1, Reason: "always"}}, nil
}

func flatTrendSeries() []market.Candle {
	return market.FlatThenTrend(1700000000000, 300000, 50000, 50, 50, 0.002)
}

func TestRunEndToEndEMACross(t *testing.T) {
	strat, err := strategy.New("ema_cross", nil)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := New(Config{
		Symbol:         "BTCUSDT",
		InitialCapital: 10000,
		FeeRate:        0.001,
	}, strat, nil, Hooks{})
	if err != nil {
		t.Fatal(err)
	}

	res, err := eng.Run(context.Background(), flatTrendSeries())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Candles != 100 {
		t.Fatalf("candles = %d, want 100", res.Candles)
	}
	if len(res.Trades) == 0 {
		t.Fatal("expected trades from the trending half")
	}

	closes := 0
	for _, tr := range res.Trades {
		if tr.Action != ActionClose {
			continue
		}
		closes++
		if tr.OpenTradeID == 0 {
			t.Fatalf("close trade %d missing open trade reference", tr.ID)
		}
	}
	if closes == 0 {
		t.Fatal("end-of-data liquidation must produce at least one close")
	}
	if res.Metrics.TotalTrades != closes {
		t.Fatalf("metrics.TotalTrades = %d, want %d close rows", res.Metrics.TotalTrades, closes)
	}

	// Nothing stays open after the final liquidation.
	if n := len(eng.ledger.OpenSides()); n != 0 {
		t.Fatalf("%d sides still open after end of data", n)
	}
}

// Balance must equal initial capital plus the sum of realized close pnls,
// with fees already netted inside each pnl.
func TestBalanceConservation(t *testing.T) {
	strat, _ := strategy.New("ema_cross", nil)
	eng, _ := New(Config{Symbol: "BTCUSDT", InitialCapital: 10000, FeeRate: 0.001}, strat, nil, Hooks{})

	res, err := eng.Run(context.Background(), flatTrendSeries())
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, tr := range res.Trades {
		if tr.Action == ActionClose {
			sum += tr.Pnl
		}
	}
	final := res.EquityCurve[len(res.EquityCurve)-1]
	if math.Abs(final.Balance-(10000+sum)) > 1e-6 {
		t.Fatalf("balance = %f, want %f", final.Balance, 10000+sum)
	}
	// Flat book at the end: equity equals balance.
	if math.Abs(final.Equity-final.Balance) > 1e-6 {
		t.Fatalf("equity %f != balance %f after liquidation", final.Equity, final.Balance)
	}
}

// On a candle where a stop triggers, the risk close must precede any strategy
// fill in the trade sequence.
func TestStopsRunBeforeStrategySignals(t *testing.T) {
	candles := []market.Candle{
		{Timestamp: 1, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{Timestamp: 2, Open: 100, High: 101, Low: 89, Close: 90, Volume: 1},
	}
	eng, err := New(Config{
		Symbol:         "BTCUSDT",
		InitialCapital: 10000,
		Risk:           RiskConfig{StopLossPct: 0.05},
	}, alwaysLong{}, nil, Hooks{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.Run(context.Background(), candles)
	if err != nil {
		t.Fatal(err)
	}

	var second []Trade
	for _, tr := range res.Trades {
		if tr.Timestamp == 2 {
			second = append(second, tr)
		}
	}
	if len(second) < 2 {
		t.Fatalf("expected stop close and re-open on candle 2, got %v", second)
	}
	if second[0].Action != ActionClose || second[0].Reason == "always" {
		t.Fatalf("first fill on the stop candle = %+v, want risk close", second[0])
	}
	if second[1].Action != ActionOpen {
		t.Fatalf("strategy open should follow the stop, got %+v", second[1])
	}
}

func TestSlippageRaisesCostBothDirections(t *testing.T) {
	eng := &Engine{cfg: Config{SlippageBps: 10}}

	if got := eng.fillPrice(100, SideLong, ActionOpen); math.Abs(got-100.1) > 1e-9 {
		t.Fatalf("long open fill = %f, want 100.1", got)
	}
	if got := eng.fillPrice(100, SideLong, ActionClose); math.Abs(got-99.9) > 1e-9 {
		t.Fatalf("long close fill = %f, want 99.9", got)
	}
	if got := eng.fillPrice(100, SideShort, ActionOpen); math.Abs(got-99.9) > 1e-9 {
		t.Fatalf("short open fill = %f, want 99.9", got)
	}
	if got := eng.fillPrice(100, SideShort, ActionClose); math.Abs(got-100.1) > 1e-9 {
		t.Fatalf("short close fill = %f, want 100.1", got)
	}
}

func TestDataIntegrityAbortKeepsPartialResult(t *testing.T) {
	candles := flatTrendSeries()
	candles[40].Close = -1 // poisoned bar

	strat, _ := strategy.New("ema_cross", nil)
	eng, _ := New(Config{Symbol: "BTCUSDT", InitialCapital: 10000}, strat, nil, Hooks{})

	res, err := eng.Run(context.Background(), candles)
	var integrity *DataIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want DataIntegrityError", err)
	}
	if integrity.Index != 40 {
		t.Fatalf("failure index = %d, want 40", integrity.Index)
	}
	if res == nil || res.Candles != 40 {
		t.Fatalf("partial result should cover the 40 clean candles, got %+v", res)
	}
	if len(res.EquityCurve) != 40 {
		t.Fatalf("equity points = %d, want 40", len(res.EquityCurve))
	}
}

func TestNonMonotonicTimestampAborts(t *testing.T) {
	candles := flatTrendSeries()
	candles[10].Timestamp = candles[9].Timestamp

	strat, _ := strategy.New("ema_cross", nil)
	eng, _ := New(Config{Symbol: "BTCUSDT", InitialCapital: 10000}, strat, nil, Hooks{})

	_, err := eng.Run(context.Background(), candles)
	var integrity *DataIntegrityError
	if !errors.As(err, &integrity) || integrity.Index != 10 {
		t.Fatalf("err = %v, want DataIntegrityError at 10", err)
	}
}

func TestCancellationBetweenCandles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	strat, _ := strategy.New("ema_cross", nil)
	eng, _ := New(Config{Symbol: "BTCUSDT", InitialCapital: 10000}, strat, nil, Hooks{})

	res, err := eng.Run(ctx, flatTrendSeries())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if res == nil {
		t.Fatal("cancelled runs still return the partial result")
	}
}

func TestConfigValidation(t *testing.T) {
	strat, _ := strategy.New("ema_cross", nil)

	var cfgErr *ConfigurationError
	_, err := New(Config{InitialCapital: 0}, strat, nil, Hooks{})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("zero capital: err = %v", err)
	}
	_, err = New(Config{InitialCapital: 100, FeeRate: -1}, strat, nil, Hooks{})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("negative fee: err = %v", err)
	}
	_, err = New(Config{InitialCapital: 100}, nil, nil, Hooks{})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("nil strategy: err = %v", err)
	}
}

func TestHookErrorAbortsRun(t *testing.T) {
	strat, _ := strategy.New("ema_cross", nil)
	boom := errors.New("sink unavailable")
	eng, _ := New(Config{Symbol: "BTCUSDT", InitialCapital: 10000}, strat, nil, Hooks{
		OnEquity: func(EquityPoint) error { return boom },
	})

	_, err := eng.Run(context.Background(), flatTrendSeries())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped sink error", err)
	}
}

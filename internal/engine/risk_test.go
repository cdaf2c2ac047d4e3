package engine

import (
	"strings"
	"testing"
)

func openLong(l *Ledger, qty, price float64) {
	l.ApplyFill(SideLong, ActionOpen, qty, price, 0, 1, 1)
}

func TestStopLossFires(t *testing.T) {
	l := NewLedger("BTCUSDT")
	openLong(l, 1, 100)
	r := NewRiskManager(RiskConfig{StopLossPct: 0.05}, 0)

	if evs := r.CheckStops(l, 96); len(evs) != 0 {
		t.Fatalf("4%% adverse should not stop out, got %v", evs)
	}
	evs := r.CheckStops(l, 95)
	if len(evs) != 1 || evs[0].Side != SideLong {
		t.Fatalf("expected long stop, got %v", evs)
	}
	if !strings.Contains(evs[0].Reason, "stop loss") {
		t.Fatalf("reason = %q", evs[0].Reason)
	}
}

func TestTakeProfitFires(t *testing.T) {
	l := NewLedger("BTCUSDT")
	l.ApplyFill(SideShort, ActionOpen, 1, 100, 0, 1, 1)
	r := NewRiskManager(RiskConfig{TakeProfitPct: 0.03}, 0)

	evs := r.CheckStops(l, 97)
	if len(evs) != 1 || evs[0].Side != SideShort {
		t.Fatalf("expected short take profit, got %v", evs)
	}
}

func TestTrailingStopTracksBestPrice(t *testing.T) {
	l := NewLedger("BTCUSDT")
	openLong(l, 1, 100)
	r := NewRiskManager(RiskConfig{TrailingStopPct: 0.02}, 0)

	// Ride up to 110, then retrace past 2% of the best price.
	for _, p := range []float64{102, 105, 110} {
		if evs := r.CheckStops(l, p); len(evs) != 0 {
			t.Fatalf("unexpected stop at %f", p)
		}
	}
	if evs := r.CheckStops(l, 108.5); len(evs) != 0 {
		t.Fatalf("1.36%% retrace should not fire, got %v", evs)
	}
	evs := r.CheckStops(l, 107.8)
	if len(evs) != 1 || evs[0].Reason != "trailing stop" {
		t.Fatalf("expected trailing stop, got %v", evs)
	}
}

func TestResetSideClearsTrailingState(t *testing.T) {
	l := NewLedger("BTCUSDT")
	openLong(l, 1, 100)
	r := NewRiskManager(RiskConfig{TrailingStopPct: 0.02}, 0)
	r.CheckStops(l, 110)
	r.ResetSide(SideLong)

	// New episode from 100: old best price of 110 must not leak in.
	if evs := r.CheckStops(l, 100); len(evs) != 0 {
		t.Fatalf("stale trailing state leaked: %v", evs)
	}
}

func TestRecordTradeResultCounters(t *testing.T) {
	r := NewRiskManager(RiskConfig{}, 0)
	r.RecordTradeResult(5)
	r.RecordTradeResult(-3)
	r.RecordTradeResult(-2)
	r.RecordTradeResult(0)

	if r.Wins != 1 || r.Losses != 2 {
		t.Fatalf("wins/losses = %d/%d, want 1/2", r.Wins, r.Losses)
	}
	if r.ConsecutiveLosses != 2 {
		t.Fatalf("consecutive losses = %d, want 2", r.ConsecutiveLosses)
	}
	r.RecordTradeResult(1)
	if r.ConsecutiveLosses != 0 {
		t.Fatal("win should reset the consecutive-loss streak")
	}
}

func TestKellyFraction(t *testing.T) {
	r := NewRiskManager(RiskConfig{}, 0)
	if got := r.KellyFraction(); got != 0 {
		t.Fatalf("kelly with no history = %f, want 0", got)
	}

	// Two wins of 10, one loss of 5: W=2/3, R=2, f = 2/3 - (1/3)/2 = 0.5.
	r.RecordTradeResult(10)
	r.RecordTradeResult(10)
	r.RecordTradeResult(-5)
	if got := r.KellyFraction(); got < 0.4999 || got > 0.5001 {
		t.Fatalf("kelly = %f, want 0.5", got)
	}
}

func TestObserveEquityDrawdown(t *testing.T) {
	r := NewRiskManager(RiskConfig{}, 0)
	r.ObserveEquity(10000)
	r.ObserveEquity(11000)
	r.ObserveEquity(9900)
	if r.PeakEquity != 11000 {
		t.Fatalf("peak = %f", r.PeakEquity)
	}
	if got := r.CurrentDrawdown; got < 0.0999 || got > 0.1001 {
		t.Fatalf("drawdown = %f, want ~0.1", got)
	}
}

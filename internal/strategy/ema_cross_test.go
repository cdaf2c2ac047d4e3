package strategy

import (
	"testing"

	"github.com/goccy/go-json"

	"bandbot/internal/market"
)

func candlesFromCloses(closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: int64(i+1) * 60000,
			Open:      c, High: c * 1.001, Low: c * 0.999, Close: c,
			Volume: 1,
		}
	}
	return out
}

// Descending then ascending closes force a fast-over-slow crossover near the
// turn.
func vShape(n int) []float64 {
	closes := make([]float64, 0, n)
	price := 100.0
	for i := 0; i < n/2; i++ {
		price *= 0.995
		closes = append(closes, price)
	}
	for i := 0; i < n-n/2; i++ {
		price *= 1.01
		closes = append(closes, price)
	}
	return closes
}

func TestEMACrossSignalsLongAtUpturn(t *testing.T) {
	strat, err := New("ema_cross", json.RawMessage(`{"fast": 3, "slow": 8}`))
	if err != nil {
		t.Fatal(err)
	}
	candles := candlesFromCloses(vShape(40))

	var sawLong bool
	for i := strat.Warmup(); i <= len(candles); i++ {
		legs, err := strat.Analyze(&Snapshot{Symbol: "BTCUSDT", Candles: candles[:i], Equity: 10000})
		if err != nil {
			t.Fatal(err)
		}
		for _, leg := range legs {
			if leg.Kind == SignalLong {
				sawLong = true
			}
			if leg.Kind == SignalShort && !sawLong {
				t.Fatal("short before the downtrend established a position makes no sense in a pure v-shape")
			}
		}
	}
	if !sawLong {
		t.Fatal("v-shape series must produce a long crossover")
	}
}

func TestEMACrossClosesOppositeFirst(t *testing.T) {
	strat, _ := New("ema_cross", json.RawMessage(`{"fast": 3, "slow": 8}`))

	// Fall, rise, fall: the fast EMA starts below the slow, crosses above at
	// the upturn (long), then back below at the downturn (flip to short).
	closes := make([]float64, 0, 75)
	price := 100.0
	for i := 0; i < 15; i++ {
		price *= 0.995
		closes = append(closes, price)
	}
	for i := 0; i < 30; i++ {
		price *= 1.01
		closes = append(closes, price)
	}
	for i := 0; i < 30; i++ {
		price *= 0.99
		closes = append(closes, price)
	}
	candles := candlesFromCloses(closes)

	var flip []Signal
	for i := strat.Warmup(); i <= len(candles); i++ {
		legs, err := strat.Analyze(&Snapshot{Symbol: "BTCUSDT", Candles: candles[:i], Equity: 10000})
		if err != nil {
			t.Fatal(err)
		}
		if len(legs) == 2 {
			flip = legs
		}
	}
	if flip == nil {
		t.Fatal("expected a two-leg flip after the trend reversal")
	}
	if flip[0].Kind != SignalCloseLong || flip[1].Kind != SignalShort {
		t.Fatalf("flip order = %s then %s, want close_long then short", flip[0].Kind, flip[1].Kind)
	}
}

// A signal computed at bar i must not change when later bars are appended.
func TestEMACrossNoLookAhead(t *testing.T) {
	candles := candlesFromCloses(vShape(40))
	cut := 25

	a, _ := New("ema_cross", json.RawMessage(`{"fast": 3, "slow": 8}`))
	b, _ := New("ema_cross", json.RawMessage(`{"fast": 3, "slow": 8}`))

	// Walk a through the full series, b only through the prefix; decisions on
	// the shared prefix must match.
	for i := a.Warmup(); i <= cut; i++ {
		legsA, errA := a.Analyze(&Snapshot{Candles: candles[:i], Equity: 10000})
		legsB, errB := b.Analyze(&Snapshot{Candles: candles[:i], Equity: 10000})
		if errA != nil || errB != nil {
			t.Fatal(errA, errB)
		}
		if len(legsA) != len(legsB) {
			t.Fatalf("bar %d: %d legs vs %d", i, len(legsA), len(legsB))
		}
		for j := range legsA {
			if legsA[j].Kind != legsB[j].Kind {
				t.Fatalf("bar %d leg %d: %s vs %s", i, j, legsA[j].Kind, legsB[j].Kind)
			}
		}
	}
}

func TestEMACrossParamValidation(t *testing.T) {
	if _, err := New("ema_cross", json.RawMessage(`{"fast": 26, "slow": 12}`)); err == nil {
		t.Fatal("fast >= slow must be rejected")
	}
	if _, err := New("ema_cross", json.RawMessage(`{"fast": 0}`)); err == nil {
		t.Fatal("zero fast period must be rejected")
	}
}

func TestUnknownStrategy(t *testing.T) {
	if _, err := New("does_not_exist", nil); err == nil {
		t.Fatal("unknown strategy must error")
	}
}

func TestNamesIncludesRegistered(t *testing.T) {
	names := Names()
	want := map[string]bool{"ema_cross": false, "macd_trend": false, "bollinger_revert": false, "band_limited_hedging": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Fatalf("registry missing %s", n)
		}
	}
}

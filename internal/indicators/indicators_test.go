package indicators

import (
	"math"
	"testing"
)

func TestSMAKnownValues(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5}
	sma, err := SMA(series, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(sma[0]) || !math.IsNaN(sma[1]) {
		t.Fatal("warm-up positions must be NaN")
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if got := sma[i+2]; math.Abs(got-w) > 1e-12 {
			t.Fatalf("sma[%d] = %f, want %f", i+2, got, w)
		}
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	series := []float64{10, 10, 10, 10, 20}
	ema, err := EMA(series, 4)
	if err != nil {
		t.Fatal(err)
	}
	if ema[3] != 10 {
		t.Fatalf("seed = %f, want 10", ema[3])
	}
	// alpha = 2/5 = 0.4; 20*0.4 + 10*0.6 = 14
	if math.Abs(ema[4]-14) > 1e-12 {
		t.Fatalf("ema[4] = %f, want 14", ema[4])
	}
}

func TestEMANoLookAhead(t *testing.T) {
	series := []float64{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	full, err := EMA(series, 3)
	if err != nil {
		t.Fatal(err)
	}
	truncated, err := EMA(series[:7], 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range truncated {
		if math.IsNaN(truncated[i]) && math.IsNaN(full[i]) {
			continue
		}
		if truncated[i] != full[i] {
			t.Fatalf("truncating the input changed ema[%d]: %f vs %f", i, truncated[i], full[i])
		}
	}
}

func TestRSIAllGains(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	rsi, err := RSI(series, 5)
	if err != nil {
		t.Fatal(err)
	}
	if rsi[5] != 100 {
		t.Fatalf("rsi = %f, want 100 for monotonic gains", rsi[5])
	}
}

func TestRSIBounds(t *testing.T) {
	series := []float64{44, 44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28}
	rsi, err := RSI(series, 14)
	if err != nil {
		t.Fatal(err)
	}
	v := rsi[14]
	if v < 0 || v > 100 {
		t.Fatalf("rsi out of bounds: %f", v)
	}
	if v < 60 || v > 80 {
		t.Fatalf("rsi = %f, expected around 70 for this classic fixture", v)
	}
}

func TestMACDWarmup(t *testing.T) {
	series := make([]float64, 60)
	for i := range series {
		series[i] = 100 + float64(i)
	}
	macd, signal, hist, err := MACD(series, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(macd[24]) {
		t.Fatal("macd before slow warm-up must be NaN")
	}
	if math.IsNaN(signal[len(series)-1]) || math.IsNaN(hist[len(series)-1]) {
		t.Fatal("signal/hist must be valid at the tail")
	}
	// Steady uptrend: fast EMA above slow EMA.
	if macd[len(series)-1] <= 0 {
		t.Fatalf("macd = %f, want positive in uptrend", macd[len(series)-1])
	}
}

func TestATRConstantRange(t *testing.T) {
	n := 20
	high := make([]float64, n)
	low := make([]float64, n)
	close := make([]float64, n)
	for i := 0; i < n; i++ {
		high[i] = 105
		low[i] = 95
		close[i] = 100
	}
	atr, err := ATR(high, low, close, 5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(atr[n-1]-10) > 1e-9 {
		t.Fatalf("atr = %f, want 10", atr[n-1])
	}
}

func TestBollingerFlatSeries(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = 50
	}
	mid, upper, lower, err := Bollinger(series, 20, 2)
	if err != nil {
		t.Fatal(err)
	}
	i := len(series) - 1
	if mid[i] != 50 || upper[i] != 50 || lower[i] != 50 {
		t.Fatalf("flat series should collapse the bands: mid=%f upper=%f lower=%f", mid[i], upper[i], lower[i])
	}
}

func TestADXTrending(t *testing.T) {
	n := 80
	high := make([]float64, n)
	low := make([]float64, n)
	close := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)
		high[i] = base + 1
		low[i] = base - 1
		close[i] = base
	}
	adx, err := ADX(high, low, close, 14)
	if err != nil {
		t.Fatal(err)
	}
	v := adx[n-1]
	if math.IsNaN(v) {
		t.Fatal("adx must be valid after warm-up")
	}
	if v < 50 {
		t.Fatalf("adx = %f, want strong trend reading", v)
	}
}

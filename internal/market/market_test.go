package market

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateRejectsBadBars(t *testing.T) {
	cases := []struct {
		name string
		c    Candle
	}{
		{"zero close", Candle{Timestamp: 1, Open: 1, High: 1, Low: 1, Close: 0, Volume: 1}},
		{"negative open", Candle{Timestamp: 1, Open: -1, High: 1, Low: 1, Close: 1, Volume: 1}},
		{"negative volume", Candle{Timestamp: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: -1}},
		{"inverted range", Candle{Timestamp: 1, Open: 1, High: 1, Low: 2, Close: 1, Volume: 1}},
	}
	for _, tc := range cases {
		if err := tc.c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidateSeriesOrdering(t *testing.T) {
	ok := []Candle{
		{Timestamp: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Timestamp: 2, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
	}
	if err := ValidateSeries(ok); err != nil {
		t.Fatal(err)
	}

	dup := append(ok[:1:1], ok[0])
	if err := ValidateSeries(dup); err == nil {
		t.Fatal("duplicate timestamp must be rejected")
	}
}

func TestLoadCSVHeaderAndSecondsPromotion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "klines.csv")
	data := "timestamp,open,high,low,close,volume\n" +
		"1700000300,101,102,100,101.5,10\n" +
		"1700000000,100,101,99,100.5,11\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	candles, err := LoadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	// Rows are sorted by timestamp and seconds are promoted to milliseconds.
	if candles[0].Timestamp != 1700000000000 || candles[1].Timestamp != 1700000300000 {
		t.Fatalf("timestamps = %d, %d", candles[0].Timestamp, candles[1].Timestamp)
	}
	if candles[0].Close != 100.5 {
		t.Fatalf("close = %f", candles[0].Close)
	}
}

func TestParseTimeframe(t *testing.T) {
	for in, want := range map[string]int64{
		"1m": 60000, "5m": 300000, "15min": 900000, "30": 1800000,
	} {
		got, err := ParseTimeframe(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s = %d, want %d", in, got, want)
		}
	}
	for _, in := range []string{"", "0m", "-5m", "fast"} {
		if _, err := ParseTimeframe(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestResampleAggregation(t *testing.T) {
	// Three 1m bars in one 5m bucket, one in the next.
	src := []Candle{
		{Timestamp: 300000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1},
		{Timestamp: 360000, Open: 11, High: 15, Low: 11, Close: 14, Volume: 2},
		{Timestamp: 420000, Open: 14, High: 14, Low: 8, Close: 9, Volume: 3},
		{Timestamp: 600000, Open: 9, High: 10, Low: 9, Close: 10, Volume: 4},
	}
	out, err := Resample(src, 300000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("buckets = %d, want 2", len(out))
	}
	first := out[0]
	if first.Timestamp != 300000 || first.Open != 10 || first.High != 15 || first.Low != 8 || first.Close != 9 || first.Volume != 6 {
		t.Fatalf("first bucket = %+v", first)
	}
	if out[1].Timestamp != 600000 || out[1].Volume != 4 {
		t.Fatalf("second bucket = %+v", out[1])
	}
}

func TestResampleUnsortedInput(t *testing.T) {
	src := []Candle{
		{Timestamp: 420000, Open: 14, High: 14, Low: 8, Close: 9, Volume: 3},
		{Timestamp: 300000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1},
	}
	out, err := Resample(src, 300000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("buckets = %d, want 1", len(out))
	}
	// First-by-time open, last-by-time close regardless of input order.
	if out[0].Open != 10 || out[0].Close != 9 {
		t.Fatalf("bucket = %+v", out[0])
	}

	if _, err := Resample(src, 0); err == nil {
		t.Fatal("zero bucket must be rejected")
	}
}

func TestFlatThenTrendDeterministic(t *testing.T) {
	a := FlatThenTrend(1700000000000, 300000, 50000, 50, 50, 0.002)
	b := FlatThenTrend(1700000000000, 300000, 50000, 50, 50, 0.002)
	if len(a) != 100 || len(b) != 100 {
		t.Fatalf("length = %d/%d, want 100", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs between runs", i)
		}
	}
	if err := ValidateSeries(a); err != nil {
		t.Fatal(err)
	}
	// The trending half actually trends.
	if a[99].Close <= a[50].Close {
		t.Fatal("trend half should drift upward")
	}
}

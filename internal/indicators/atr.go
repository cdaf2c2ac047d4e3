package indicators

import (
	"errors"
	"math"
)

// ATR computes the Average True Range with Wilder's smoothing, seeded with
// the SMA of the first period true-range values.
func ATR(high, low, close []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	n := len(close)
	if len(high) != n || len(low) != n {
		return nil, errors.New("high/low/close length mismatch")
	}
	if n < period+1 {
		return nil, errors.New("series length smaller than period")
	}

	out := make([]float64, n)
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
	}

	seed := 0.0
	for i := 1; i <= period; i++ {
		seed += trueRange(high[i], low[i], close[i-1])
	}
	out[period] = seed / float64(period)

	for i := period + 1; i < n; i++ {
		tr := trueRange(high[i], low[i], close[i-1])
		out[i] = (out[i-1]*float64(period-1) + tr) / float64(period)
	}
	return out, nil
}

func trueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if v := math.Abs(high - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(low - prevClose); v > tr {
		tr = v
	}
	return tr
}

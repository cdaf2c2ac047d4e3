package indicators

import (
	"errors"
	"math"
)

// SMA computes the simple moving average. Positions before the first full
// window are NaN.
func SMA(series []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	if len(series) < period {
		return nil, errors.New("series length smaller than period")
	}

	out := make([]float64, len(series))
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += series[i]
	}
	out[period-1] = sum / float64(period)

	for i := period; i < len(series); i++ {
		sum += series[i] - series[i-period]
		out[i] = sum / float64(period)
	}
	return out, nil
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period values.
func EMA(series []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	if len(series) < period {
		return nil, errors.New("series length smaller than period")
	}

	out := make([]float64, len(series))
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += series[i]
	}
	out[period-1] = sum / float64(period)

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(series); i++ {
		out[i] = series[i]*alpha + out[i-1]*(1-alpha)
	}
	return out, nil
}

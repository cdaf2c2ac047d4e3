package indicators

import (
	"errors"
	"math"
)

// Bollinger returns the middle (SMA), upper and lower bands at mult standard
// deviations.
func Bollinger(series []float64, period int, mult float64) ([]float64, []float64, []float64, error) {
	if mult <= 0 {
		return nil, nil, nil, errors.New("mult must be positive")
	}
	mid, err := SMA(series, period)
	if err != nil {
		return nil, nil, nil, err
	}

	upper := make([]float64, len(series))
	lower := make([]float64, len(series))
	for i := range series {
		if math.IsNaN(mid[i]) {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := series[j] - mid[i]
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(period))
		upper[i] = mid[i] + mult*sd
		lower[i] = mid[i] - mult*sd
	}
	return mid, upper, lower, nil
}

package indicators

import (
	"errors"
	"math"
)

// MACD returns the MACD line, signal line and histogram.
func MACD(series []float64, fastPeriod, slowPeriod, signalPeriod int) ([]float64, []float64, []float64, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 {
		return nil, nil, nil, errors.New("periods must be positive")
	}
	if fastPeriod >= slowPeriod {
		return nil, nil, nil, errors.New("fast period must be smaller than slow period")
	}
	if len(series) < slowPeriod+signalPeriod {
		return nil, nil, nil, errors.New("series length smaller than required periods")
	}

	fast, err := EMA(series, fastPeriod)
	if err != nil {
		return nil, nil, nil, err
	}
	slow, err := EMA(series, slowPeriod)
	if err != nil {
		return nil, nil, nil, err
	}

	macdLine := make([]float64, len(series))
	for i := range series {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			macdLine[i] = math.NaN()
			continue
		}
		macdLine[i] = fast[i] - slow[i]
	}

	firstValid := slowPeriod - 1
	signalRaw, err := EMA(macdLine[firstValid:], signalPeriod)
	if err != nil {
		return nil, nil, nil, err
	}

	signalLine := make([]float64, len(series))
	hist := make([]float64, len(series))
	for i := 0; i < firstValid; i++ {
		signalLine[i] = math.NaN()
		hist[i] = math.NaN()
	}
	for j, v := range signalRaw {
		i := firstValid + j
		signalLine[i] = v
		if math.IsNaN(v) {
			hist[i] = math.NaN()
		} else {
			hist[i] = macdLine[i] - v
		}
	}
	return macdLine, signalLine, hist, nil
}

package indicators

import (
	"errors"
	"math"
)

// RSI computes the Relative Strength Index with Wilder's smoothing.
func RSI(series []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	if len(series) < period+1 {
		return nil, errors.New("series length smaller than period")
	}

	out := make([]float64, len(series))
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := series[i] - series[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(series); i++ {
		change := series[i] - series[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

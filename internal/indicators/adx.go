package indicators

import (
	"errors"
	"math"
)

// ADX computes the Average Directional Index over OHLC series using Wilder's
// smoothing for +DM, -DM and TR. Warm-up positions are NaN; the first valid
// ADX value appears at index 2*period.
func ADX(high, low, close []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	n := len(close)
	if len(high) != n || len(low) != n {
		return nil, errors.New("high/low/close length mismatch")
	}
	if n < 2*period+1 {
		return nil, errors.New("series length smaller than 2*period")
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	var smTR, smPlusDM, smMinusDM float64
	for i := 1; i <= period; i++ {
		tr, pdm, mdm := dmStep(high, low, close, i)
		smTR += tr
		smPlusDM += pdm
		smMinusDM += mdm
	}

	dx := make([]float64, 0, n-period)
	dx = append(dx, dxValue(smPlusDM, smMinusDM, smTR))

	for i := period + 1; i < n; i++ {
		tr, pdm, mdm := dmStep(high, low, close, i)
		smTR = smTR - smTR/float64(period) + tr
		smPlusDM = smPlusDM - smPlusDM/float64(period) + pdm
		smMinusDM = smMinusDM - smMinusDM/float64(period) + mdm
		dx = append(dx, dxValue(smPlusDM, smMinusDM, smTR))
	}

	// ADX = Wilder-smoothed DX
	adxSeed := 0.0
	for i := 0; i < period; i++ {
		adxSeed += dx[i]
	}
	adx := adxSeed / float64(period)
	out[2*period] = adx

	for i := period; i < len(dx); i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		out[period+i] = adx
	}
	return out, nil
}

func dmStep(high, low, close []float64, i int) (tr, plusDM, minusDM float64) {
	up := high[i] - high[i-1]
	down := low[i-1] - low[i]
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	tr = trueRange(high[i], low[i], close[i-1])
	return tr, plusDM, minusDM
}

func dxValue(plusDM, minusDM, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

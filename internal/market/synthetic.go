package market

import "math"

// FlatThenTrend generates a synthetic series: flatBars of sideways movement
// around basePrice followed by trendBars drifting by driftPct per bar.
// Deterministic (sinusoidal wobble, no RNG) so fixtures are reproducible.
func FlatThenTrend(startTs int64, stepMs int64, basePrice float64, flatBars, trendBars int, driftPct float64) []Candle {
	total := flatBars + trendBars
	candles := make([]Candle, 0, total)
	price := basePrice
	for i := 0; i < total; i++ {
		open := price
		if i >= flatBars {
			price *= 1 + driftPct
		} else {
			price = basePrice * (1 + 0.001*math.Sin(float64(i)/3))
		}
		close := price
		high := math.Max(open, close) * 1.0005
		low := math.Min(open, close) * 0.9995
		candles = append(candles, Candle{
			Timestamp: startTs + int64(i)*stepMs,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    100 + float64(i%7)*10,
		})
	}
	return candles
}

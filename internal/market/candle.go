package market

import (
	"fmt"
	"time"
)

// Candle is a single OHLCV bar. Timestamps are milliseconds UTC.
type Candle struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (c Candle) Time() time.Time { return time.UnixMilli(c.Timestamp).UTC() }

// Validate rejects malformed bars: non-positive prices, negative volume,
// or high/low that do not bracket open/close.
func (c Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle at %d: non-positive price", c.Timestamp)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle at %d: negative volume %f", c.Timestamp, c.Volume)
	}
	if c.High < c.Low {
		return fmt.Errorf("candle at %d: high %f below low %f", c.Timestamp, c.High, c.Low)
	}
	return nil
}

// ValidateSeries checks every bar and the strictly-increasing timestamp order.
func ValidateSeries(candles []Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
		if i > 0 && c.Timestamp <= candles[i-1].Timestamp {
			return fmt.Errorf("non-monotonic timestamp at index %d: %d <= %d",
				i, c.Timestamp, candles[i-1].Timestamp)
		}
	}
	return nil
}

// Closes extracts the close series for indicator calculations.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
